package auth

import (
	"encoding/json"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/authgate/internal/domain"
)

// joseHeader holds the header fields used for classification.
type joseHeader struct {
	Alg string `json:"alg"`
	Enc string `json:"enc"`
	Kid string `json:"kid"`
}

var segmentDecoder = jwt.NewParser()

// Classify reports whether token is a compact JWS or JWE by its segment count
// and header. Any other shape is malformed.
func Classify(token string) (domain.TokenKind, error) {
	segments := strings.Split(token, ".")

	switch len(segments) {
	case 3, 5:
	default:
		return "", domain.ErrMalformedToken("unexpected number of segments")
	}

	raw, err := segmentDecoder.DecodeSegment(segments[0])
	if err != nil {
		return "", domain.ErrMalformedToken("header is not base64url")
	}
	var header joseHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", domain.ErrMalformedToken("header is not a JSON object")
	}
	if header.Alg == "" {
		return "", domain.ErrMalformedToken("header has no alg")
	}

	switch {
	case len(segments) == 3 && header.Enc == "":
		return domain.TokenKindSigned, nil
	case len(segments) == 5 && header.Enc != "":
		return domain.TokenKindEncrypted, nil
	default:
		return "", domain.ErrMalformedToken("header does not match token shape")
	}
}
