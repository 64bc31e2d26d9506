package firestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	gcfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ClientOptions selects the Firebase project and its credentials.
type ClientOptions struct {
	ProjectID string
	// CredentialsFile is a service account key on disk.
	CredentialsFile string
	// CredentialsBase64 is a base64 encoded service account key and wins over
	// CredentialsFile when set.
	CredentialsBase64 string
}

// NewFirestoreClient initializes a Firebase app and returns its Firestore
// client. With no credentials configured the application default credentials
// are used, which also covers FIRESTORE_EMULATOR_HOST.
func NewFirestoreClient(ctx context.Context, opts ClientOptions, logger *zap.SugaredLogger) (*gcfirestore.Client, error) {
	var clientOpts []option.ClientOption

	switch {
	case opts.CredentialsBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(opts.CredentialsBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 firebase credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsJSON(decoded))
		logger.Infow("initializing Firestore from inline credentials", "project_id", opts.ProjectID)
	case opts.CredentialsFile != "":
		if _, err := os.Stat(opts.CredentialsFile); err != nil {
			return nil, fmt.Errorf("firebase credentials file not usable: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
		logger.Infow("initializing Firestore from credentials file",
			"project_id", opts.ProjectID,
			"file", opts.CredentialsFile,
		)
	default:
		logger.Infow("initializing Firestore with default credentials", "project_id", opts.ProjectID)
	}

	var cfg *firebase.Config
	if opts.ProjectID != "" {
		cfg = &firebase.Config{ProjectID: opts.ProjectID}
	}

	app, err := firebase.NewApp(ctx, cfg, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}
	return client, nil
}
