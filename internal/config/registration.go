package config

import (
	"crypto/rand"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/palpo-im/zulipbridge/internal/bridgeerr"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// randomToken returns a random base62 string of length n, used for the
// registration file's as_token/hs_token.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", bridgeerr.Wrap(bridgeerr.IO, err, "failed to read random bytes")
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out), nil
}

// userNamespace is one entry of registration.namespaces.users.
type userNamespace struct {
	Regex     string `yaml:"regex"`
	Exclusive bool   `yaml:"exclusive"`
}

// registrationFile is the serialized shape of the generated YAML file.
type registrationFile struct {
	ID              string `yaml:"id"`
	URL             string `yaml:"url"`
	ASToken         string `yaml:"as_token"`
	HSToken         string `yaml:"hs_token"`
	RateLimited     bool   `yaml:"rate_limited"`
	SenderLocalpart string `yaml:"sender_localpart"`
	Namespaces      struct {
		Users []userNamespace `yaml:"users"`
	} `yaml:"namespaces"`
}

// GenerateRegistrationOptions configures GenerateRegistration.
type GenerateRegistrationOptions struct {
	Path            string
	URL             string
	SenderLocalpart string
	Domain          string
	// Compat appends a second users regex matching "@<botname>:.*", for
	// homeservers that expect the bot's own MXID unscoped by server name.
	Compat bool
}

// GenerateRegistration writes a new appservice registration YAML file to
// opts.Path, refusing to overwrite an existing one.
func GenerateRegistration(opts GenerateRegistrationOptions) error {
	if _, err := os.Stat(opts.Path); err == nil {
		return bridgeerr.New(bridgeerr.Config, fmt.Errorf("registration file %q already exists, refusing to overwrite", opts.Path))
	} else if !os.IsNotExist(err) {
		return bridgeerr.Wrap(bridgeerr.IO, err, "failed to stat registration file")
	}

	asToken, err := randomToken(64)
	if err != nil {
		return err
	}
	hsToken, err := randomToken(64)
	if err != nil {
		return err
	}

	senderLocalpart := opts.SenderLocalpart
	if senderLocalpart == "" {
		senderLocalpart = "zulipbridge"
	}

	reg := registrationFile{
		ID:              "zulipbridge",
		URL:             opts.URL,
		ASToken:         asToken,
		HSToken:         hsToken,
		RateLimited:     false,
		SenderLocalpart: senderLocalpart,
	}
	reg.Namespaces.Users = []userNamespace{
		{Regex: fmt.Sprintf("@_zulip_.*:%s", opts.Domain), Exclusive: true},
		{Regex: fmt.Sprintf("@%s:%s", senderLocalpart, opts.Domain), Exclusive: true},
	}
	if opts.Compat {
		reg.Namespaces.Users = append(reg.Namespaces.Users, userNamespace{
			Regex:     fmt.Sprintf("@%s:.*", senderLocalpart),
			Exclusive: true,
		})
	}

	data, err := yaml.Marshal(reg)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.YAML, err, "failed to encode registration file")
	}
	if err := os.WriteFile(opts.Path, data, 0o600); err != nil {
		return bridgeerr.Wrap(bridgeerr.IO, err, "failed to write registration file")
	}
	return nil
}
