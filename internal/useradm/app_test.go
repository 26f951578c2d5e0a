package useradm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/server/auth"
	"github.com/dmitrijs2005/cosauth/internal/server/directory"
	"github.com/dmitrijs2005/cosauth/internal/server/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func stubPasswords(t *testing.T, pws ...string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) {
		if len(pws) == 0 {
			return nil, errors.New("no more input")
		}
		p := pws[0]
		pws = pws[1:]
		return []byte(p), nil
	}
}

func newDirectory() *directory.Service {
	return directory.NewService(objectstore.NewMemoryStore(), auth.NewHasher(bcrypt.MinCost), directory.Options{})
}

func TestCreateAdmin(t *testing.T) {
	stubPasswords(t, "adminpass1", "adminpass1")
	dir := newDirectory()
	var out bytes.Buffer

	app := NewApp(dir, strings.NewReader("root\nroot@example.com\n"), &out)
	require.NoError(t, app.Run(context.Background(), CmdCreateAdmin))
	assert.Contains(t, out.String(), "Administrator root created")

	u, err := dir.FindByIdentifier(context.Background(), "ROOT@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, common.RoleAdmin, u.Role)
	assert.True(t, auth.VerifyPassword("adminpass1", u.PasswordHash))
}

func TestCreateAdmin_PasswordMismatch(t *testing.T) {
	stubPasswords(t, "adminpass1", "adminpass2")
	app := NewApp(newDirectory(), strings.NewReader("root\nroot@example.com\n"), &bytes.Buffer{})

	err := app.CreateAdmin(context.Background())
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestCreateAdmin_PromptError(t *testing.T) {
	stubPasswords(t)
	app := NewApp(newDirectory(), strings.NewReader("root\nroot@example.com\n"), &bytes.Buffer{})
	require.Error(t, app.CreateAdmin(context.Background()))
}

func TestReconcile(t *testing.T) {
	dir := newDirectory()
	_, err := dir.Register(context.Background(), directory.RegisterInput{Username: "u", Email: "u@example.com", Password: "password123"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, NewApp(dir, strings.NewReader(""), &out).Run(context.Background(), CmdReconcile))
	assert.Equal(t, "Scanned 1 users: 0 index entries added, 0 removed\n", out.String())
}

func TestRun_UnknownCommand(t *testing.T) {
	err := NewApp(newDirectory(), strings.NewReader(""), &bytes.Buffer{}).Run(context.Background(), "drop-all")
	require.ErrorIs(t, err, ErrUnknownCommand)

	var out bytes.Buffer
	Usage(&out)
	assert.Contains(t, out.String(), CmdCreateAdmin)
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(bufio.NewReader(strings.NewReader("lastline")), "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}
	if out.String() != "Name?\n> " {
		t.Fatalf("unexpected prompt %q", out.String())
	}
}
