package repository

import (
	"context"
	"errors"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/registry"
)

var ErrNotFound = errors.New("record not found")

type CreateChannelInput struct {
	ChannelID string
	BatchID   string
	Name      string
}

type CreateDeliveryInput struct {
	ChannelID string
	BatchID   string
	SessionID string
	Topic     string
	Subject   string
	Outcome   DeliveryOutcome
	Reason    string
}

type ChannelRepository interface {
	ListChannels(ctx context.Context) ([]registry.ChannelMapping, error)
	CreateChannel(ctx context.Context, input CreateChannelInput) (*registry.ChannelMapping, error)
	DeleteChannel(ctx context.Context, id string) error
	ToggleChannel(ctx context.Context, id string) (*registry.ChannelMapping, error)
}

type CredentialRepository interface {
	GetCredentials(ctx context.Context) (config.Credentials, error)
	SaveCredentials(ctx context.Context, creds config.Credentials) error
}

type AdminRepository interface {
	// GetPasswordHash returns an empty hash when setup has not happened yet.
	GetPasswordHash(ctx context.Context) (string, error)
	// CreatePasswordHash stores the first hash and reports false when one
	// already exists.
	CreatePasswordHash(ctx context.Context, hash string) (bool, error)
}

type WorkerStateRepository interface {
	GetSessionActive(ctx context.Context) (bool, error)
	SetSessionActive(ctx context.Context, active bool) error
}

type DeliveryRepository interface {
	CreateDelivery(ctx context.Context, input CreateDeliveryInput) (*Delivery, error)
	ListRecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
}

type Repository interface {
	ChannelRepository
	CredentialRepository
	AdminRepository
	WorkerStateRepository
	DeliveryRepository
}
