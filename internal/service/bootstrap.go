package service

import (
	"bufio"
	"os"
	"strings"

	"github.com/pogo-tools/account-broker/internal/store"
	"github.com/rs/zerolog/log"
)

// LoadAccountsFromFile bulk-upserts credentials from a text file, one
// "username,password" record per line. Malformed lines are skipped with
// a warning. A missing file is not an error; the pool just stays as-is.
func LoadAccountsFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", path).Msg("account file not found, not adding accounts")
			return nil
		}
		return err
	}
	defer f.Close()

	var credentials [][2]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			log.Warn().Str("line", line).Msg("invalid account entry")
			continue
		}
		credentials = append(credentials, [2]string{parts[0], parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(credentials) == 0 {
		log.Info().Str("file", path).Msg("no accounts to load")
		return nil
	}
	if err := store.New().BulkUpsertAccounts(credentials); err != nil {
		return err
	}
	log.Info().Int("count", len(credentials)).Str("file", path).Msg("accounts loaded")
	return nil
}
