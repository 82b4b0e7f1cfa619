package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errPasswordMismatch = errors.New("passwords do not match")

// GetPassword prints prompt to w and reads a password from the terminal
// without echo. The caller wipes the returned slice.
func GetPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// readSecret asks for the backup password, twice when confirm is set, and
// derives the backup secret from it.
func readSecret(w io.Writer, confirm bool) (string, error) {
	pw, err := GetPassword(w, "Backup password: ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(pw)

	if len(pw) == 0 {
		return "", errors.New("empty password")
	}

	if confirm {
		again, err := GetPassword(w, "Repeat password: ")
		if err != nil {
			return "", err
		}
		defer common.WipeByteArray(again)
		if string(again) != string(pw) {
			return "", errPasswordMismatch
		}
	}

	return cryptox.DeriveSecret(pw), nil
}
