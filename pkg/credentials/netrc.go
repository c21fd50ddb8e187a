package credentials

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jdx/go-netrc"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
)

// ReadCredentialsFile looks up the entry in the user's netrc-style
// credentials file whose machine equals tokenEndpoint's host, returning
// (login, password). It mirrors the reference client's use of Python's
// netrc module against the OIDC token endpoint.
func ReadCredentialsFile(tokenEndpoint string) (string, string, error) {
	path, err := netrcPath()
	if err != nil {
		return "", "", err
	}

	n, err := netrc.ParseFile(path)
	if err != nil {
		return "", "", cdseerrors.Wrap(cdseerrors.TypeNoCredentials, "reading credentials file", err)
	}

	host := tokenEndpoint
	if u, err := url.Parse(tokenEndpoint); err == nil && u.Host != "" {
		host = u.Host
	}

	machine := n.Machine(host)
	if machine == nil {
		return "", "", cdseerrors.New(cdseerrors.TypeNoCredentials, fmt.Sprintf("no credentials file entry for %s", host))
	}

	login := machine.Get("login")
	password := machine.Get("password")
	if login == "" || password == "" {
		return "", "", cdseerrors.New(cdseerrors.TypeNoCredentials, fmt.Sprintf("incomplete credentials file entry for %s", host))
	}
	return login, password, nil
}

func netrcPath() (string, error) {
	if p := os.Getenv("NETRC"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", cdseerrors.Wrap(cdseerrors.TypeNoCredentials, "resolving home directory", err)
	}
	return filepath.Join(home, ".netrc"), nil
}
