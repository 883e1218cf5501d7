package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxDeliveryListLimit = 500

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ListChannels(ctx context.Context) ([]registry.ChannelMapping, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, channel_id, batch_id, name, active
		 FROM channels ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []registry.ChannelMapping{}
	for rows.Next() {
		var m registry.ChannelMapping
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.BatchID, &m.Name, &m.Active); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) CreateChannel(ctx context.Context, input repository.CreateChannelInput) (*registry.ChannelMapping, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO channels (id, channel_id, batch_id, name, active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING id, channel_id, batch_id, name, active`,
		uuid.NewString(), strings.TrimSpace(input.ChannelID), strings.TrimSpace(input.BatchID), strings.TrimSpace(input.Name))
	var m registry.ChannelMapping
	if err := row.Scan(&m.ID, &m.ChannelID, &m.BatchID, &m.Name, &m.Active); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) DeleteChannel(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ToggleChannel(ctx context.Context, id string) (*registry.ChannelMapping, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE channels SET active = NOT active WHERE id = $1
		 RETURNING id, channel_id, batch_id, name, active`,
		id)
	var m registry.ChannelMapping
	if err := row.Scan(&m.ID, &m.ChannelID, &m.BatchID, &m.Name, &m.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) GetCredentials(ctx context.Context) (config.Credentials, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT telegram_session, schedule_token, converter_token FROM credentials WHERE id = 1`)
	var c config.Credentials
	if err := row.Scan(&c.TelegramSession, &c.ScheduleToken, &c.ConverterToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return config.Credentials{}, nil
		}
		return config.Credentials{}, err
	}
	return c, nil
}

func (r *PostgresRepository) SaveCredentials(ctx context.Context, creds config.Credentials) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credentials (id, telegram_session, schedule_token, converter_token, updated_at)
		 VALUES (1, $1, $2, $3, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   telegram_session = EXCLUDED.telegram_session,
		   schedule_token = EXCLUDED.schedule_token,
		   converter_token = EXCLUDED.converter_token,
		   updated_at = NOW()`,
		creds.TelegramSession, creds.ScheduleToken, creds.ConverterToken)
	return err
}

func (r *PostgresRepository) GetPasswordHash(ctx context.Context) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, `SELECT password_hash FROM admin_auth WHERE id = 1`).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

func (r *PostgresRepository) CreatePasswordHash(ctx context.Context, hash string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO admin_auth (id, password_hash) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`,
		hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) GetSessionActive(ctx context.Context) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT session_active FROM worker_state WHERE id = 1`).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return active, nil
}

func (r *PostgresRepository) SetSessionActive(ctx context.Context, active bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO worker_state (id, session_active, updated_at) VALUES (1, $1, NOW())
		 ON CONFLICT (id) DO UPDATE SET session_active = EXCLUDED.session_active, updated_at = NOW()`,
		active)
	return err
}

func (r *PostgresRepository) CreateDelivery(ctx context.Context, input repository.CreateDeliveryInput) (*repository.Delivery, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO deliveries (channel_id, batch_id, session_id, topic, subject, outcome, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, channel_id, batch_id, session_id, topic, subject, outcome, reason, created_at`,
		input.ChannelID, input.BatchID, input.SessionID, input.Topic, input.Subject, string(input.Outcome), input.Reason)
	d, err := scanDelivery(row)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresRepository) ListRecentDeliveries(ctx context.Context, limit int) ([]repository.Delivery, error) {
	if limit <= 0 || limit > maxDeliveryListLimit {
		limit = maxDeliveryListLimit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, channel_id, batch_id, session_id, topic, subject, outcome, reason, created_at
		 FROM deliveries ORDER BY created_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []repository.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func scanDelivery(row pgx.Row) (repository.Delivery, error) {
	var d repository.Delivery
	var outcome string
	err := row.Scan(&d.ID, &d.ChannelID, &d.BatchID, &d.SessionID, &d.Topic, &d.Subject, &outcome, &d.Reason, &d.CreatedAt)
	if err != nil {
		return repository.Delivery{}, err
	}
	d.Outcome = repository.DeliveryOutcome(outcome)
	return d, nil
}
