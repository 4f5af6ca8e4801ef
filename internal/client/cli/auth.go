package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/rentkeeper/internal/client/client"
	"github.com/dmitrijs2005/rentkeeper/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for the account fields and creates the account. The
// server's field errors are printed one per line.
func (a *App) Register(ctx context.Context) error {
	in := client.RegisterRequest{}

	prompts := []struct {
		label string
		dst   *string
	}{
		{"Enter email", &in.Email},
		{"Enter first name", &in.FirstName},
		{"Enter last name", &in.LastName},
		{"Enter role (owner, tenant, technician)", &in.Role},
	}
	for _, p := range prompts {
		v, err := getSimpleText(a.reader, p.label, a.out)
		if err != nil {
			return err
		}
		*p.dst = v
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)
	in.Password = string(password)

	acc, err := a.api.Register(ctx, in)
	if err != nil {
		a.report("Registration failed", err)
		return err
	}

	a.email = acc.Email
	fmt.Fprintf(a.out, "Registered %s as %s\n", acc.Email, strings.Join(acc.Roles, ", "))
	return nil
}

func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	acc, err := a.api.Login(ctx, email, string(password))
	if err != nil {
		a.report("Login unsuccessful", err)
		return err
	}

	a.email = acc.Email
	fmt.Fprintln(a.out, "Login successful")
	return nil
}

// Me prints the authenticated account.
func (a *App) Me(ctx context.Context) error {
	acc, err := a.api.Me(ctx)
	if err != nil {
		a.report("Request failed", err)
		return err
	}

	a.email = acc.Email
	fmt.Fprintf(a.out, "%s %s <%s>\nid:    %s\nroles: %s\n",
		acc.FirstName, acc.LastName, acc.Email, acc.ID, strings.Join(acc.Roles, ", "))
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	err := a.api.Logout(ctx)
	a.email = ""
	if err != nil {
		a.report("Logged out locally", err)
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) report(prefix string, err error) {
	var ve *common.ValidationError
	switch {
	case errors.As(err, &ve):
		fmt.Fprintln(a.out, prefix+":")
		fields := make([]string, 0, len(ve.Fields))
		for f := range ve.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(a.out, "  %s: %s\n", f, ve.Fields[f])
		}
	case errors.Is(err, client.ErrNotLoggedIn):
		fmt.Fprintf(a.out, "%s: not logged in\n", prefix)
	case errors.Is(err, client.ErrUnauthorized):
		fmt.Fprintf(a.out, "%s: unauthorized\n", prefix)
	case errors.Is(err, client.ErrUnavailable):
		fmt.Fprintf(a.out, "%s: server unavailable\n", prefix)
	default:
		fmt.Fprintf(a.out, "%s: %v\n", prefix, err)
	}
}
