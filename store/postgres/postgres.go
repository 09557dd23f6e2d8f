// Package postgres holds the production AccountStore over database/sql and
// the lib/pq driver. Accounts live in one table; purpose tokens live in a
// companion table keyed (account_id, purpose) so issuing a token supersedes
// the prior one and consumption is a single conditional delete.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/kipdev/authority"
)

// Schema creates the tables the store expects. Callers run it through their
// own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                UUID PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	password_hash     TEXT NOT NULL,
	role              TEXT NOT NULL DEFAULT 'user',
	status            SMALLINT NOT NULL DEFAULT 0,
	tf_enabled        BOOLEAN NOT NULL DEFAULT FALSE,
	tf_first_verified BOOLEAN NOT NULL DEFAULT FALSE,
	tf_method         TEXT NOT NULL DEFAULT '',
	tf_totp_secret    TEXT NOT NULL DEFAULT '',
	tf_phone_number   TEXT NOT NULL DEFAULT '',
	tf_sms_handle     TEXT NOT NULL DEFAULT '',
	tf_resend_after   TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS purpose_tokens (
	account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	purpose    TEXT NOT NULL,
	value      TEXT NOT NULL,
	issued_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, purpose)
);

CREATE UNIQUE INDEX IF NOT EXISTS purpose_tokens_value_idx
	ON purpose_tokens (purpose, value);
`

const uniqueViolation = "23505"

const accountColumns = `
	id, email, first_name, last_name, password_hash, role, status,
	tf_enabled, tf_first_verified, tf_method, tf_totp_secret,
	tf_phone_number, tf_sms_handle, tf_resend_after, created_at
`

// Store implements authority.AccountStore over a *sql.DB.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle. The handle stays owned by the caller.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, account *authority.Account) error {
	const insertAccount = `
		INSERT INTO accounts (
			id, email, first_name, last_name, password_hash, role, status,
			tf_enabled, tf_first_verified, tf_method, tf_totp_secret,
			tf_phone_number, tf_sms_handle, tf_resend_after, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tf := account.TwoFactor
	_, err = tx.ExecContext(ctx, insertAccount,
		account.ID, account.Email, account.FirstName, account.LastName,
		account.PasswordHash, string(account.Role), int16(account.Status),
		tf.Enabled, tf.FirstVerified, string(tf.Method),
		totpSecret(tf), smsPhone(tf), smsHandle(tf),
		resendAfter(tf), account.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return authority.ErrEmailTaken
		}
		return err
	}
	for purpose, tok := range account.Tokens {
		if err := saveToken(ctx, tx, account.ID, purpose, tok); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*authority.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return s.loadAccount(ctx, q, email)
}

func (s *Store) FindByID(ctx context.Context, id string) (*authority.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return s.loadAccount(ctx, q, id)
}

func (s *Store) FindByToken(ctx context.Context, purpose authority.TokenPurpose, value string) (*authority.Account, error) {
	const q = `
		SELECT ` + accountColumns + `
		FROM accounts
		JOIN purpose_tokens ON purpose_tokens.account_id = accounts.id
		WHERE purpose_tokens.purpose = $1 AND purpose_tokens.value = $2
	`
	account, err := s.loadAccount(ctx, q, string(purpose), value)
	if err == authority.ErrAccountNotFound {
		return nil, authority.ErrTokenNotFound
	}
	return account, err
}

func (s *Store) SaveToken(ctx context.Context, accountID string, purpose authority.TokenPurpose, tok authority.PurposeToken) error {
	return saveToken(ctx, s.db, accountID, purpose, tok)
}

// ConsumeToken deletes a live token row and returns its account. The delete
// carries the expiry predicate, so under concurrent consumption the row
// guards itself: exactly one caller gets it back.
func (s *Store) ConsumeToken(ctx context.Context, purpose authority.TokenPurpose, value string, now time.Time) (*authority.Account, error) {
	const del = `
		DELETE FROM purpose_tokens
		WHERE purpose = $1 AND value = $2 AND expires_at >= $3
		RETURNING account_id
	`
	var accountID string
	err := s.db.QueryRowContext(ctx, del, string(purpose), value, now).Scan(&accountID)
	if err == sql.ErrNoRows {
		// Either the value never existed (or was already consumed), or it is
		// sitting there expired. Tell the two apart for the caller; the
		// expired row stays.
		const probe = `SELECT 1 FROM purpose_tokens WHERE purpose = $1 AND value = $2`
		var one int
		probeErr := s.db.QueryRowContext(ctx, probe, string(purpose), value).Scan(&one)
		if probeErr == sql.ErrNoRows {
			return nil, authority.ErrTokenNotFound
		}
		if probeErr != nil {
			return nil, probeErr
		}
		return nil, authority.ErrTokenExpired
	}
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, accountID)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	const q = `UPDATE accounts SET password_hash = $2 WHERE id = $1`
	return s.updateOne(ctx, q, accountID, hash)
}

func (s *Store) UpdateStatus(ctx context.Context, accountID string, status authority.AccountStatus) error {
	const q = `UPDATE accounts SET status = $2 WHERE id = $1`
	return s.updateOne(ctx, q, accountID, int16(status))
}

func (s *Store) UpdateTwoFactor(ctx context.Context, accountID string, tf authority.TwoFactor) error {
	const q = `
		UPDATE accounts SET
			tf_enabled = $2, tf_first_verified = $3, tf_method = $4,
			tf_totp_secret = $5, tf_phone_number = $6, tf_sms_handle = $7,
			tf_resend_after = $8
		WHERE id = $1
	`
	return s.updateOne(ctx, q, accountID,
		tf.Enabled, tf.FirstVerified, string(tf.Method),
		totpSecret(tf), smsPhone(tf), smsHandle(tf),
		resendAfter(tf),
	)
}

func (s *Store) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authority.ErrAccountNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveToken(ctx context.Context, db execer, accountID string, purpose authority.TokenPurpose, tok authority.PurposeToken) error {
	const q = `
		INSERT INTO purpose_tokens (account_id, purpose, value, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, purpose) DO UPDATE SET
			value = EXCLUDED.value,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := db.ExecContext(ctx, q, accountID, string(purpose), tok.Value, tok.IssuedAt, tok.ExpiresAt)
	return err
}

func (s *Store) loadAccount(ctx context.Context, query string, args ...any) (*authority.Account, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	var (
		account       authority.Account
		role, method  string
		status        int16
		totp          string
		phone, handle string
		resend        sql.NullTime
	)
	err := row.Scan(
		&account.ID, &account.Email, &account.FirstName, &account.LastName,
		&account.PasswordHash, &role, &status,
		&account.TwoFactor.Enabled, &account.TwoFactor.FirstVerified, &method,
		&totp, &phone, &handle, &resend, &account.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, authority.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	account.Role = authority.Role(role)
	account.Status = authority.AccountStatus(status)
	account.TwoFactor.Method = authority.TwoFactorMethod(method)
	if totp != "" {
		account.TwoFactor.TOTP = &authority.TOTPFactor{Secret: totp}
	}
	if phone != "" || handle != "" {
		factor := &authority.SMSFactor{PhoneNumber: phone, SessionHandle: handle}
		if resend.Valid {
			factor.ResendAfter = resend.Time
		}
		account.TwoFactor.SMS = factor
	}

	if err := s.loadTokens(ctx, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) loadTokens(ctx context.Context, account *authority.Account) error {
	const q = `
		SELECT purpose, value, issued_at, expires_at
		FROM purpose_tokens
		WHERE account_id = $1
	`
	rows, err := s.db.QueryContext(ctx, q, account.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			purpose string
			tok     authority.PurposeToken
		)
		if err := rows.Scan(&purpose, &tok.Value, &tok.IssuedAt, &tok.ExpiresAt); err != nil {
			return err
		}
		account.SetToken(authority.TokenPurpose(purpose), tok)
	}
	return rows.Err()
}

// Column helpers keep nil factors out of the insert parameter lists.

func totpSecret(tf authority.TwoFactor) string {
	if tf.TOTP == nil {
		return ""
	}
	return tf.TOTP.Secret
}

func smsPhone(tf authority.TwoFactor) string {
	if tf.SMS == nil {
		return ""
	}
	return tf.SMS.PhoneNumber
}

func smsHandle(tf authority.TwoFactor) string {
	if tf.SMS == nil {
		return ""
	}
	return tf.SMS.SessionHandle
}

func resendAfter(tf authority.TwoFactor) sql.NullTime {
	if tf.SMS == nil || tf.SMS.ResendAfter.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: tf.SMS.ResendAfter, Valid: true}
}
