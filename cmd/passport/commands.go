package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"xdao.co/passport/session"
	"xdao.co/passport/storage/bundle"
	"xdao.co/passport/storage/casregistry"
)

func registerCmd(c *cli) *cobra.Command {
	var payloadPath string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a passport and store its first session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials()
			if err != nil {
				return err
			}
			payload, err := readPayload(c.in, payloadPath)
			if err != nil {
				return err
			}
			m, _, release, err := c.open()
			if err != nil {
				return err
			}
			defer release()
			if err := m.Register(cmd.Context(), creds, payload); err != nil {
				return err
			}
			defer m.Logout()
			fmt.Fprintf(c.out, "Registered %s\n", creds.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadPath, "payload", "", "session payload file (- for stdin)")
	return cmd
}

func loginCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Unlock the passport and write the session payload to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.loggedIn(cmd.Context(), func(m *session.Manager, _ *slog.Logger) error {
				payload, err := m.Payload()
				if err != nil {
					return err
				}
				_, err = c.out.Write(payload)
				return err
			})
		},
	}
}

func saveCmd(c *cli) *cobra.Command {
	var payloadPath string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Store a new session payload; the current one becomes the backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(c.in, payloadPath)
			if err != nil {
				return err
			}
			return c.loggedIn(cmd.Context(), func(m *session.Manager, _ *slog.Logger) error {
				if err := m.Save(cmd.Context(), payload); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "Saved")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payloadPath, "payload", "", "session payload file (- for stdin)")
	return cmd
}

func passwdCmd(c *cli) *cobra.Command {
	var next session.Credentials
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change username, PIN and/or password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.loggedIn(cmd.Context(), func(m *session.Manager, _ *slog.Logger) error {
				creds, _ := c.credentials()
				if next.Username == "" {
					next.Username = creds.Username
				}
				if next.PIN == "" {
					next.PIN = creds.PIN
				}
				if next.Password == "" {
					next.Password = creds.Password
				}
				if next == creds {
					return fmt.Errorf("nothing to change")
				}
				if err := m.ChangeCredentials(cmd.Context(), next); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "Credentials changed")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&next.Username, "new-username", "", "new username (default: unchanged)")
	cmd.Flags().StringVar(&next.PIN, "new-pin", "", "new PIN (default: unchanged)")
	cmd.Flags().StringVar(&next.Password, "new-password", "", "new password (default: unchanged)")
	return cmd
}

func inspectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "List the confirmed packets (names in base58) and their CAS blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.loggedIn(cmd.Context(), func(m *session.Manager, _ *slog.Logger) error {
				pkts, err := m.Packets()
				if err != nil {
					return err
				}
				blocks, err := m.Blocks()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tNAME\tBLOCK")
				for _, p := range pkts {
					block := "-"
					if id, ok := blocks[p.Type]; ok {
						block = id.String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Type, base58.Encode(p.Name), block)
				}
				return tw.Flush()
			})
		},
	}
}

func exportCmd(c *cli) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every published block of the passport to a TAR bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return fmt.Errorf("--out is required")
			}
			return c.loggedIn(cmd.Context(), func(m *session.Manager, log *slog.Logger) error {
				blocks, err := m.Blocks()
				if err != nil {
					return err
				}
				labels := make(map[string]cid.Cid, len(blocks))
				for t, id := range blocks {
					labels[t.String()] = id
				}
				f, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
				if err != nil {
					return err
				}
				opts := bundle.ExportOptions{Labels: labels, IncludeIndex: true}
				if err := bundle.Export(cmd.Context(), f, m.CAS(), session.SortedCIDs(blocks), opts); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				log.Info("exported passport bundle", "path", outPath, "blocks", len(blocks))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "bundle file to write")
	return cmd
}

func backendsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the CAS backends linked into this binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range casregistry.List(casregistry.UsageCLI) {
				if b.Description == "" {
					fmt.Fprintln(c.out, b.Name)
					continue
				}
				fmt.Fprintf(c.out, "%s\t%s\n", b.Name, b.Description)
			}
			return nil
		},
	}
}
