package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/crypto"
	"github.com/atinyakov/GophOTP/internal/models"
	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/repository"
)

const helpText = `Available commands:
  help                 show this list
  add [uri]            add a token from an otpauth URI, or enter it by hand
  list                 list tokens
  code <n>             show the code of token n
  edit <n>             change issuer, account name and image of token n
  move <from> <to>     move a token to another position
  delete <n>           delete token n
  lock <n>             require the PIN for codes of token n
  unlock <n>           stop requiring the PIN for token n
  uri <n>              print the otpauth URI of token n
  qr <n> <file>        write the otpauth URI of token n as a QR PNG
  exit                 leave the shell`

// Store is the part of the token store the shell drives.
type Store interface {
	Add(ctx context.Context, raw string) (models.Token, error)
	All(ctx context.Context) ([]models.Token, error)
	Load(ctx context.Context, index int) (models.Token, bool, error)
	CodeAt(ctx context.Context, index int) (models.Token, []otp.Code, bool, error)
	Edit(ctx context.Context, account, issuer, label, image string) (models.Token, error)
	Move(ctx context.Context, from, to int) error
	Erase(ctx context.Context, index int) error
	SetLocked(ctx context.Context, account string, locked bool) (models.Token, error)
	URI(ctx context.Context, account string) (string, error)
}

// Shell is the interactive token shell.
type Shell struct {
	Store  Store
	Prompt *Prompter
	Out    io.Writer
	Log    *zap.Logger
}

// Run reads commands until exit or the end of input.
func (s *Shell) Run(ctx context.Context) error {
	for {
		line, err := s.Prompt.Ask("gophotp> ")
		if errors.Is(err, ErrInputClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.Exec(ctx, strings.Fields(line)) {
			return nil
		}
	}
}

// Exec runs a single command and reports whether the shell should stop.
func (s *Shell) Exec(ctx context.Context, args []string) (quit bool) {
	if len(args) == 0 {
		return false
	}

	var err error
	switch args[0] {
	case "help":
		fmt.Fprintln(s.Out, helpText)
	case "add":
		err = s.add(ctx, args[1:])
	case "list":
		err = s.list(ctx)
	case "code":
		err = s.withIndex(args, "code <n>", func(n int) error { return s.code(ctx, n) })
	case "edit":
		err = s.withIndex(args, "edit <n>", func(n int) error { return s.edit(ctx, n) })
	case "move":
		err = s.move(ctx, args)
	case "delete":
		err = s.withIndex(args, "delete <n>", func(n int) error { return s.delete(ctx, n) })
	case "lock", "unlock":
		locked := args[0] == "lock"
		err = s.withIndex(args, args[0]+" <n>", func(n int) error { return s.setLocked(ctx, n, locked) })
	case "uri":
		err = s.withIndex(args, "uri <n>", func(n int) error {
			uri, err := s.uri(ctx, n)
			if err == nil {
				fmt.Fprintln(s.Out, uri)
			}
			return err
		})
	case "qr":
		if len(args) < 3 {
			fmt.Fprintln(s.Out, "Usage: qr <n> <file>")
			return false
		}
		err = s.withIndex(args, "qr <n> <file>", func(n int) error { return s.qr(ctx, n, args[2]) })
	case "exit":
		fmt.Fprintln(s.Out, "Bye")
		return true
	default:
		fmt.Fprintln(s.Out, "Unknown command. Type 'help' for a list of commands.")
	}

	if err != nil {
		if s.Log != nil {
			s.Log.Debug("shell command failed", zap.String("command", args[0]), zap.Error(err))
		}
		fmt.Fprintln(s.Out, "Error:", err)
	}
	return false
}

func (s *Shell) add(ctx context.Context, args []string) error {
	raw := strings.Join(args, " ")
	if raw == "" {
		in, err := s.Prompt.ManualInput()
		if err != nil {
			return err
		}
		if raw, err = in.Raw(); err != nil {
			return err
		}
	}
	tok, err := s.Store.Add(ctx, raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Added %s\n", displayName(tok))
	return nil
}

func (s *Shell) list(ctx context.Context) error {
	all, err := s.Store.All(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(s.Out, "No tokens")
		return nil
	}
	for i, tok := range all {
		mark := ""
		if tok.Locked {
			mark = " [locked]"
		}
		fmt.Fprintf(s.Out, "%d. %s (%s)%s\n", i, displayName(tok), tok.Kind, mark)
	}
	return nil
}

func (s *Shell) code(ctx context.Context, n int) error {
	var (
		tok   models.Token
		codes []otp.Code
		found bool
	)
	err := s.withPresence(ctx, func(ctx context.Context) error {
		var err error
		tok, codes, found, err = s.Store.CodeAt(ctx, n)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(s.Out, "Token not found")
		return nil
	}

	fmt.Fprintf(s.Out, "%s: %s (valid until %s)\n", displayName(tok), codes[0].Value, codes[0].To.Format(time.TimeOnly))
	if len(codes) > 1 {
		fmt.Fprintf(s.Out, "next: %s\n", codes[1].Value)
	}
	return nil
}

func (s *Shell) edit(ctx context.Context, n int) error {
	tok, err := s.load(ctx, n)
	if err != nil {
		return err
	}
	issuer, label, image, err := s.Prompt.Edit()
	if err != nil {
		return err
	}
	if tok, err = s.Store.Edit(ctx, tok.Account, issuer, label, image); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Updated %s\n", displayName(tok))
	return nil
}

func (s *Shell) move(ctx context.Context, args []string) error {
	if len(args) < 3 {
		fmt.Fprintln(s.Out, "Usage: move <from> <to>")
		return nil
	}
	from, err1 := strconv.Atoi(args[1])
	to, err2 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil {
		fmt.Fprintln(s.Out, "Usage: move <from> <to>")
		return nil
	}
	if err := s.Store.Move(ctx, from, to); err != nil {
		return err
	}
	fmt.Fprintln(s.Out, "Token moved")
	return nil
}

func (s *Shell) delete(ctx context.Context, n int) error {
	if _, err := s.load(ctx, n); err != nil {
		return err
	}
	if err := s.Store.Erase(ctx, n); err != nil {
		return err
	}
	fmt.Fprintln(s.Out, "Token deleted")
	return nil
}

func (s *Shell) setLocked(ctx context.Context, n int, locked bool) error {
	tok, err := s.load(ctx, n)
	if err != nil {
		return err
	}
	account := tok.Account
	err = s.withPresence(ctx, func(ctx context.Context) error {
		var err error
		tok, err = s.Store.SetLocked(ctx, account, locked)
		return err
	})
	if err != nil {
		return err
	}
	if tok.Locked {
		fmt.Fprintf(s.Out, "%s locked\n", displayName(tok))
	} else {
		fmt.Fprintf(s.Out, "%s unlocked\n", displayName(tok))
	}
	return nil
}

func (s *Shell) uri(ctx context.Context, n int) (string, error) {
	tok, err := s.load(ctx, n)
	if err != nil {
		return "", err
	}
	var uri string
	err = s.withPresence(ctx, func(ctx context.Context) error {
		var err error
		uri, err = s.Store.URI(ctx, tok.Account)
		return err
	})
	return uri, err
}

func (s *Shell) qr(ctx context.Context, n int, path string) error {
	uri, err := s.uri(ctx, n)
	if err != nil {
		return err
	}
	if err := WriteQRCode(uri, path, DefaultQRSize); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "QR code written to %s\n", path)
	return nil
}

func (s *Shell) load(ctx context.Context, n int) (models.Token, error) {
	tok, ok, err := s.Store.Load(ctx, n)
	if err != nil {
		return models.Token{}, err
	}
	if !ok {
		return models.Token{}, fmt.Errorf("no token at position %d", n)
	}
	return tok, nil
}

func (s *Shell) withIndex(args []string, usage string, fn func(int) error) error {
	if len(args) < 2 {
		fmt.Fprintln(s.Out, "Usage:", usage)
		return nil
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(s.Out, "Usage:", usage)
		return nil
	}
	return fn(n)
}

// withPresence runs fn and, if it was refused for lack of a presence
// check, asks for the PIN and runs it once more.
func (s *Shell) withPresence(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, repository.ErrPresenceDenied) {
		return err
	}
	pin, perr := s.Prompt.Ask("PIN: ")
	if perr != nil {
		return err
	}
	return fn(crypto.WithPIN(ctx, pin))
}

func displayName(tok models.Token) string {
	if tok.Issuer == "" {
		return tok.Label
	}
	return tok.Issuer + ":" + tok.Label
}
