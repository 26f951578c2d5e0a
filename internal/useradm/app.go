// Package useradm implements the operator commands of the useradm tool:
// bootstrapping an administrator and repairing the directory index.
package useradm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/server/directory"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
)

const (
	CmdCreateAdmin = "create-admin"
	CmdReconcile   = "reconcile"
)

var ErrUnknownCommand = errors.New("unknown command")

type Directory interface {
	Init(ctx context.Context) error
	Register(ctx context.Context, in directory.RegisterInput) (*models.PublicUser, error)
	Reconcile(ctx context.Context) (*directory.Report, error)
}

type App struct {
	dir Directory
	in  *bufio.Reader
	out io.Writer
}

func NewApp(dir Directory, in io.Reader, out io.Writer) *App {
	return &App{dir: dir, in: bufio.NewReader(in), out: out}
}

func Usage(w io.Writer) {
	fmt.Fprintf(w, "usage: useradm <%s|%s> [server flags]\n", CmdCreateAdmin, CmdReconcile)
	fmt.Fprintf(w, "  %-13s create an administrator account\n", CmdCreateAdmin)
	fmt.Fprintf(w, "  %-13s rebuild the identifier index from user records\n", CmdReconcile)
}

func (a *App) Run(ctx context.Context, command string) error {
	switch command {
	case CmdCreateAdmin:
		return a.CreateAdmin(ctx)
	case CmdReconcile:
		return a.Reconcile(ctx)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, command)
	}
}

// CreateAdmin prompts for the account details and registers an admin.
func (a *App) CreateAdmin(ctx context.Context) error {
	if err := a.dir.Init(ctx); err != nil {
		return err
	}

	username, err := GetSimpleText(a.in, "Username", a.out)
	if err != nil {
		return err
	}
	email, err := GetSimpleText(a.in, "Email", a.out)
	if err != nil {
		return err
	}
	password, err := GetPassword("Password", a.out)
	if err != nil {
		return err
	}
	confirm, err := GetPassword("Repeat password", a.out)
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("%w: passwords do not match", common.ErrValidation)
	}

	u, err := a.dir.Register(ctx, directory.RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
		Role:     common.RoleAdmin,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Administrator %s created (id %s)\n", u.Username, u.ID)
	return nil
}

func (a *App) Reconcile(ctx context.Context) error {
	r, err := a.dir.Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Scanned %d users: %d index entries added, %d removed\n", r.Scanned, r.Added, r.Removed)
	return nil
}
