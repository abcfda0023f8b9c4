// internal/fill/values.go
// Session identity generation and the purpose-to-value table. Names, emails,
// and usernames use math/rand (uniqueness, not secrecy); passwords come from
// crypto/rand with guaranteed character-class coverage.
package fill

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strings"
	"time"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

var firstNames = []string{
	"Alex", "Casey", "Jordan", "Morgan", "Riley", "Taylor", "Quinn", "Avery",
	"Cameron", "Dana", "Elliot", "Harper", "Jamie", "Kendall", "Logan", "Parker",
}

var lastNames = []string{
	"Anderson", "Brooks", "Carter", "Dawson", "Ellis", "Foster", "Grant",
	"Hayes", "Keller", "Lawson", "Mercer", "Nolan", "Porter", "Reyes",
	"Sawyer", "Turner",
}

// defaultEmailDomain is the RFC 2606 reserved testing domain.
const defaultEmailDomain = "example.com"

// GenerateUserData builds a fresh session identity. The email embeds a
// random suffix so repeated sessions never collide on the same address.
func GenerateUserData(emailDomain string) (*schemas.UserData, error) {
	r := mrand.New(mrand.NewSource(time.Now().UnixNano()))

	if emailDomain == "" {
		emailDomain = defaultEmailDomain
	}

	first := firstNames[r.Intn(len(firstNames))]
	last := lastNames[r.Intn(len(lastNames))]
	suffix := fmt.Sprintf("%d", r.Intn(1000000))

	password, err := CompliantPassword()
	if err != nil {
		return nil, err
	}

	return &schemas.UserData{
		Email:     fmt.Sprintf("%s.%s.%s@%s", strings.ToLower(first), strings.ToLower(last), suffix, emailDomain),
		Password:  password,
		FirstName: first,
		LastName:  last,
		Username:  fmt.Sprintf("%s_%s_%s", strings.ToLower(first), strings.ToLower(last), suffix),
		// 555-01xx numbers are reserved for fictional use.
		Phone: fmt.Sprintf("555-01%02d", r.Intn(100)),
		// Company stays empty: standalone company fields are a common decoy.
		Company: "",
	}, nil
}

// CompliantPassword creates a password meeting common complexity rules with
// cryptographically secure randomness. Ambiguous characters are excluded.
func CompliantPassword() (string, error) {
	const lowerChars = "abcdefghijkmnopqrstuvwxyz"
	const upperChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	const numberChars = "23456789"
	const symbolChars = "!@#$%^&*()_+-="
	const minLength = 16

	allChars := lowerChars + upperChars + numberChars + symbolChars

	randChar := func(charset string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return 0, fmt.Errorf("crypto/rand failure: %w", err)
		}
		return charset[n.Int64()], nil
	}

	var password []byte
	// One character from each mandatory class first.
	for _, charset := range []string{upperChars, numberChars, symbolChars, lowerChars} {
		c, err := randChar(charset)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}
	for len(password) < minLength {
		c, err := randChar(allChars)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}

	// Fisher-Yates so the mandatory characters are not predictably placed.
	for i := len(password) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure during shuffle: %w", err)
		}
		j := jBig.Int64()
		password[i], password[j] = password[j], password[i]
	}

	return string(password), nil
}

// valueFor maps a field purpose to the value to type, its logging class, and
// whether it must be treated as a secret (typed atomically, never logged).
// An empty value means the field is deliberately left blank.
func valueFor(purpose schemas.FieldPurpose, data *schemas.UserData) (value, class string, secret bool) {
	switch purpose {
	case schemas.PurposeEmail:
		return data.Email, "email", false
	case schemas.PurposePassword, schemas.PurposePasswordConfirm:
		return data.Password, "password", true
	case schemas.PurposeFirstName:
		return data.FirstName, "name", false
	case schemas.PurposeLastName:
		return data.LastName, "name", false
	case schemas.PurposeFullName:
		return strings.TrimSpace(data.FirstName + " " + data.LastName), "name", false
	case schemas.PurposeUsername:
		return data.Username, "username", false
	case schemas.PurposePhone:
		return data.Phone, "phone", false
	case schemas.PurposeCompany:
		return data.Company, "company", false
	default:
		return "", "", false
	}
}
