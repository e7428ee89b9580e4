package dotsim

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	// github.com/mattn/go-sqlite3 is for sqlite.
	_ "github.com/mattn/go-sqlite3"
)

var (
	errNoConfig  = errors.New("no configuration saved")
	errNoSession = errors.New("no network session saved")
	errNoDB      = errors.New("non-volatile memory is closed")
)

// row id of the single config and session records.
const recordID = 1

// nvm is the non-volatile memory of the radio, a sqlite file that survives restarts.
type nvm struct {
	db *sql.DB
}

func openNVM(ctx context.Context, path string) (*nvm, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// create the tables if they do not exist
	sqlStmt := `
	create table if not exists config(id INTEGER NOT NULL PRIMARY KEY, data TEXT NOT NULL);
	create table if not exists session(id INTEGER NOT NULL PRIMARY KEY,
		devAddr STRING NOT NULL DEFAULT '', nwkSKey STRING NOT NULL DEFAULT '', appSKey STRING NOT NULL DEFAULT '',
		fCntUp INTEGER NOT NULL DEFAULT 0, devNonce INTEGER NOT NULL DEFAULT 0,
		joined INTEGER NOT NULL DEFAULT 0, standby INTEGER NOT NULL DEFAULT 0);
	`
	if _, err = db.ExecContext(ctx, sqlStmt); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, err
	}
	return &nvm{db: db}, nil
}

func (n *nvm) close() error {
	if n.db == nil {
		return nil
	}
	err := n.db.Close()
	n.db = nil
	return err
}

func (n *nvm) saveConfig(ctx context.Context, s settings) error {
	if n.db == nil {
		return errNoDB
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = n.db.ExecContext(ctx, "insert or replace into config (id, data) VALUES(?, ?);", recordID, string(data))
	return err
}

func (n *nvm) loadConfig(ctx context.Context) (settings, error) {
	if n.db == nil {
		return settings{}, errNoDB
	}
	var data string
	if err := n.db.QueryRowContext(ctx, "select data from config where id = ?", recordID).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings{}, errNoConfig
		}
		return settings{}, err
	}
	var s settings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return settings{}, fmt.Errorf("failed to unmarshal saved configuration: %w", err)
	}
	return s, nil
}

// saveSession stores the session, leaving the standby flag as it is.
func (n *nvm) saveSession(ctx context.Context, s session) error {
	if n.db == nil {
		return errNoDB
	}
	_, err := n.db.ExecContext(ctx, `insert into session (id, devAddr, nwkSKey, appSKey, fCntUp, devNonce, joined)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		on conflict(id) do update set devAddr = excluded.devAddr, nwkSKey = excluded.nwkSKey, appSKey = excluded.appSKey,
		fCntUp = excluded.fCntUp, devNonce = excluded.devNonce, joined = excluded.joined;`,
		recordID,
		hexString(s.DevAddr[:]),
		hexString(s.NwkSKey[:]),
		hexString(s.AppSKey[:]),
		s.FCntUp,
		s.DevNonce,
		s.Joined)
	return err
}

func (n *nvm) loadSession(ctx context.Context) (session, error) {
	if n.db == nil {
		return session{}, errNoDB
	}
	var (
		s                         session
		devAddr, nwkSKey, appSKey string
	)
	if err := n.db.QueryRowContext(ctx, "select devAddr, nwkSKey, appSKey, fCntUp, devNonce, joined from session where id = ?",
		recordID).Scan(&devAddr, &nwkSKey, &appSKey, &s.FCntUp, &s.DevNonce, &s.Joined); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session{}, errNoSession
		}
		return session{}, err
	}
	if devAddr == "" {
		return session{}, errNoSession
	}
	for _, f := range []struct {
		s   string
		dst []byte
	}{
		{devAddr, s.DevAddr[:]},
		{nwkSKey, s.NwkSKey[:]},
		{appSKey, s.AppSKey[:]},
	} {
		b, err := hex.DecodeString(f.s)
		if err != nil || len(b) != len(f.dst) {
			return session{}, fmt.Errorf("corrupt network session %q", f.s)
		}
		copy(f.dst, b)
	}
	return s, nil
}

func (n *nvm) setStandby(ctx context.Context, standby bool) error {
	if n.db == nil {
		return errNoDB
	}
	_, err := n.db.ExecContext(ctx,
		"insert into session (id, standby) VALUES(?, ?) on conflict(id) do update set standby = excluded.standby;",
		recordID, standby)
	return err
}

// takeStandby returns the standby flag and clears it, so it only reports the boot that follows a deep sleep.
func (n *nvm) takeStandby(ctx context.Context) (bool, error) {
	if n.db == nil {
		return false, errNoDB
	}
	var standby bool
	if err := n.db.QueryRowContext(ctx, "select standby from session where id = ?", recordID).Scan(&standby); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if !standby {
		return false, nil
	}
	return true, n.setStandby(ctx, false)
}

func hexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
