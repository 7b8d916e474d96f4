package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Tier is one of the three storage locations an attachment can occupy.
type Tier uint8

const (
	Cache Tier = iota + 1
	Permanent
	Backup
)

// Tiers lists every tier in a stable order.
var Tiers = []Tier{Cache, Permanent, Backup}

func (t Tier) String() string {
	switch t {
	case Cache:
		return "cache"
	case Permanent:
		return "permanent"
	case Backup:
		return "backup"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

func (t Tier) valid() bool {
	return t >= Cache && t <= Backup
}

// ParseTier converts the textual tier name used by the CLI and HTTP API.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cache":
		return Cache, nil
	case "permanent":
		return Permanent, nil
	case "backup":
		return Backup, nil
	default:
		return 0, &Error{Kind: InvalidParameter, Op: "parse tier", Err: fmt.Errorf("unknown tier %q", s)}
	}
}

const (
	imagesDir = "images"
	backupDir = "backup"
)

// Layout maps tiers onto directories. All directories are created when the
// layout is built, so later operations never race on directory creation.
//
//	<cacheRoot>/images/          cache
//	<cacheRoot>/images/backup/   backup
//	<permanentRoot>/images/      permanent
type Layout struct {
	dirs map[Tier]string
}

// NewLayout resolves the tier directories below the two host supplied roots
// and creates any that are missing.
func NewLayout(fsys afero.Fs, cacheRoot string, permanentRoot string) (*Layout, error) {
	if strings.TrimSpace(cacheRoot) == "" || strings.TrimSpace(permanentRoot) == "" {
		return nil, &Error{Kind: InvalidParameter, Op: "layout", Err: errors.New("cache and permanent roots must not be empty")}
	}

	absCache, err := filepath.Abs(cacheRoot)
	if err != nil {
		return nil, NewError("layout", cacheRoot, err, GenericOperationFailure)
	}

	absPermanent, err := filepath.Abs(permanentRoot)
	if err != nil {
		return nil, NewError("layout", permanentRoot, err, GenericOperationFailure)
	}

	l := &Layout{
		dirs: map[Tier]string{
			Cache:     filepath.Join(absCache, imagesDir),
			Backup:    filepath.Join(absCache, imagesDir, backupDir),
			Permanent: filepath.Join(absPermanent, imagesDir),
		},
	}

	for _, tier := range Tiers {
		dir := l.dirs[tier]
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, NewError("mkdir", dir, err, WriteFailure)
		}
	}

	return l, nil
}

// Dir returns the absolute directory backing tier.
func (l *Layout) Dir(tier Tier) string {
	return l.dirs[tier]
}

// Path returns the absolute path of name inside tier.
func (l *Layout) Path(tier Tier, name FileName) string {
	return filepath.Join(l.dirs[tier], name.String())
}

func (l *Layout) CacheDir() string     { return l.dirs[Cache] }
func (l *Layout) PermanentDir() string { return l.dirs[Permanent] }
func (l *Layout) BackupDir() string    { return l.dirs[Backup] }
