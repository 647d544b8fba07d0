package storage

import (
	"database/sql"
	"io"
	"os"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/yaoapp/kun/log"
)

type legacyRow struct {
	ID        int64          `db:"id"`
	Text      sql.NullString `db:"text"`
	Label     sql.NullInt64  `db:"label"`
	Category  sql.NullString `db:"category"`
	CreatedAt sql.NullString `db:"created_at"`
}

// migrate builds the key-value store from the legacy SQLite file on first
// open. The store is assembled in a temp directory and renamed into place,
// then the legacy file is archived as .bak.
func migrate(sqlitePath string, kvPath string) error {
	if _, err := os.Stat(sqlitePath); err != nil {
		return nil
	}
	if _, err := os.Stat(kvPath); err == nil {
		// already migrated, archive the leftover legacy files
		archiveLegacy(sqlitePath)
		return nil
	}

	temp := kvPath + ".migrating"
	os.RemoveAll(temp)

	log.Info("[MIGRATION] SQLite -> KV store: %s -> %s", sqlitePath, kvPath)
	db, err := sqlx.Connect("sqlite3", sqlitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	rows := []legacyRow{}
	err = db.Select(&rows, "SELECT id, text, label, category, created_at FROM samples ORDER BY id ASC")
	if err != nil {
		return err
	}

	if err := writeMigrated(temp, rows); err != nil {
		os.RemoveAll(temp)
		return err
	}
	if err := os.Rename(temp, kvPath); err != nil {
		os.RemoveAll(temp)
		return err
	}

	archiveLegacy(sqlitePath)
	log.Info("[MIGRATION] done, %d samples, SQLite archived as .bak", len(rows))
	return nil
}

func writeMigrated(path string, rows []legacyRow) error {
	temp, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return err
	}
	defer temp.Close()

	var nextID int64 = 1
	var count0, count1 int64

	for _, row := range rows {
		sample := Sample{
			ID:        row.ID,
			Text:      row.Text.String,
			Label:     int(row.Label.Int64),
			Category:  row.Category.String,
			CreatedAt: row.CreatedAt.String,
			TextHash:  hashText(row.Text.String),
		}
		if sample.CreatedAt == "" {
			sample.CreatedAt = time.Now().Format(timeFormat)
		}
		raw, err := json.Marshal(sample)
		if err != nil {
			return err
		}

		err = temp.Update(func(txn *badger.Txn) error {
			if err := txn.Set(sampleKey(sample.ID), raw); err != nil {
				return err
			}
			return txn.Set(textLatestKey(sample.TextHash), []byte(strconv.FormatInt(sample.ID, 10)))
		})
		if err != nil {
			return err
		}

		if sample.Label == 0 {
			count0++
		} else {
			count1++
		}
		if sample.ID+1 > nextID {
			nextID = sample.ID + 1
		}
	}

	return temp.Update(func(txn *badger.Txn) error {
		if err := setCounts(txn, count0, count1); err != nil {
			return err
		}
		return setMetaInt(txn, "meta:next_id", nextID)
	})
}

// archiveLegacy renames the SQLite file and its -shm/-wal siblings to .bak
func archiveLegacy(sqlitePath string) {
	for _, path := range []string{sqlitePath, sqlitePath + "-shm", sqlitePath + "-wal"} {
		renameToBak(path)
	}
}

func renameToBak(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	dst := path + ".bak"
	if _, err := os.Stat(dst); err == nil {
		dst = path + "." + time.Now().Format("20060102150405") + ".bak"
	}

	var lastErr error
	for attempt := 0; attempt < 8; attempt++ {
		if lastErr = os.Rename(path, dst); lastErr == nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	// rename blocked (open handle on some platforms), copy then unlink
	if err := copyFile(path, dst); err != nil {
		log.Warn("[MIGRATION] failed to back up %s -> %s: %s", path, dst, err.Error())
		return
	}
	log.Warn("[MIGRATION] copied (not renamed) %s -> %s: %s", path, dst, lastErr.Error())
	if err := os.Remove(path); err != nil {
		log.Warn("[MIGRATION] failed to remove %s: %s", path, err.Error())
	}
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
