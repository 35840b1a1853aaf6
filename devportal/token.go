package devportal

import (
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// limit is one entry of the "limits" claim of a portal issued token. The "client" limit carries
// the addresses the token may be used from.
type limit struct {
	Type  string   `mapstructure:"type"`
	Tier  string   `mapstructure:"tier"`
	Cidrs []string `mapstructure:"cidrs"`
}

// ipFromToken reads the caller address out of the temporary token handed out at login.
// The signature is not checked: the token only tells us what the portal already knows.
func ipFromToken(token string) (string, error) {
	if token == "" {
		return "", errors.Wrap(ErrUnknownIP, "login response carried no temporary token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return "", errors.Wrap(ErrUnknownIP, err.Error())
	}

	var limits []limit
	if err := mapstructure.Decode(claims["limits"], &limits); err != nil {
		return "", errors.Wrap(ErrUnknownIP, err.Error())
	}

	for _, l := range limits {
		if l.Type == "client" && len(l.Cidrs) > 0 {
			return strings.SplitN(l.Cidrs[0], "/", 2)[0], nil
		}
	}
	return "", ErrUnknownIP
}
