package localfs

import (
	"errors"

	"xdao.co/passport/storage"
	"xdao.co/passport/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem CAS (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Flags: []casregistry.Flag{
			{Name: "localfs-dir", Usage: "LocalFS CAS directory"},
		},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			dir := cfg["localfs-dir"]
			if dir == "" {
				return nil, nil, errors.New("localfs: missing localfs-dir")
			}
			cas, err := New(dir)
			return cas, nil, err
		},
	})
}
