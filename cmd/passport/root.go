package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"xdao.co/passport/config"
	"xdao.co/passport/locator"
	"xdao.co/passport/session"
	"xdao.co/passport/storage"
	"xdao.co/passport/storage/casregistry"

	_ "xdao.co/passport/storage/grpccas"
	_ "xdao.co/passport/storage/ipfs"
	_ "xdao.co/passport/storage/localfs"
	_ "xdao.co/passport/storage/memcas"
)

const passwordEnv = "PASSPORT_PASSWORD"

var (
	backendFlagsOnce sync.Once
	backendFlags     = flag.NewFlagSet("backends", flag.ContinueOnError)
)

// cli holds the state shared by every subcommand of one invocation.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	home       string
	configPath string
	backend    string

	username string
	pin      string
	password string
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}
	root := &cobra.Command{
		Use:          "passport",
		Short:        "Credential-derived passport CLI",
		SilenceUsage: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.home, "home", "", "data dir for the default config (default ~/.passport)")
	pf.StringVar(&c.configPath, "config", "", "YAML config file")
	pf.StringVar(&c.backend, "backend", "", "open this CAS backend from flags instead of the config's cas section")
	pf.StringVarP(&c.username, "username", "u", "", "username")
	pf.StringVar(&c.pin, "pin", "", "PIN")
	pf.StringVar(&c.password, "password", "", "password (default $"+passwordEnv+")")

	backendFlagsOnce.Do(func() { casregistry.RegisterFlags(backendFlags, casregistry.UsageCLI) })
	pf.AddGoFlagSet(backendFlags)

	root.AddCommand(
		registerCmd(c),
		loginCmd(c),
		saveCmd(c),
		passwdCmd(c),
		inspectCmd(c),
		exportCmd(c),
		backendsCmd(c),
	)
	return root
}

func (c *cli) credentials() (session.Credentials, error) {
	creds := session.Credentials{Username: c.username, PIN: c.pin, Password: c.password}
	if creds.Password == "" {
		creds.Password = os.Getenv(passwordEnv)
	}
	if creds.Username == "" || creds.PIN == "" || creds.Password == "" {
		return session.Credentials{}, fmt.Errorf("--username, --pin and a password (--password or $%s) are required", passwordEnv)
	}
	return creds, nil
}

func (c *cli) loadConfig() (config.Config, error) {
	home := c.home
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return config.Config{}, err
		}
		home = filepath.Join(dir, ".passport")
	}
	return config.Load(c.configPath, home)
}

// open wires config, logger, CAS and locator into a session manager. The
// returned function releases them.
func (c *cli) open() (*session.Manager, *slog.Logger, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := cfg.Logger(c.errOut)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		cas      storage.CAS
		closeCAS func() error
	)
	if c.backend != "" {
		cas, closeCAS, err = casregistry.Open(c.backend, casregistry.UsageCLI)
	} else {
		cas, closeCAS, err = cfg.CAS.Open(casregistry.UsageCLI, "")
	}
	if err != nil {
		return nil, nil, nil, err
	}
	release := func() {
		if closeCAS != nil {
			_ = closeCAS()
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Locator.Path), 0o700); err != nil {
		release()
		return nil, nil, nil, err
	}
	dir, err := locator.Open(cfg.Locator.Path)
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	casRelease := release
	release = func() {
		_ = dir.Close()
		casRelease()
	}

	ppOpts, err := cfg.PassportOptions()
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	m, err := session.New(cas, dir, session.WithLogger(log), session.WithPassportOptions(ppOpts...))
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	return m, log, release, nil
}

// loggedIn opens a manager, logs in with the command-line credentials and
// runs fn.
func (c *cli) loggedIn(ctx context.Context, fn func(m *session.Manager, log *slog.Logger) error) error {
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	m, log, release, err := c.open()
	if err != nil {
		return err
	}
	defer release()

	recovered, err := m.Login(ctx, creds)
	if err != nil {
		return err
	}
	defer m.Logout()
	if recovered {
		log.Warn("current session was unreadable; loaded the backup session")
	}
	return fn(m, log)
}

func readPayload(in io.Reader, path string) ([]byte, error) {
	switch path {
	case "":
		return nil, errors.New("--payload is required (use - for stdin)")
	case "-":
		return io.ReadAll(in)
	default:
		return os.ReadFile(path)
	}
}
