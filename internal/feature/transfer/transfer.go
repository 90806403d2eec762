// Package transfer exports and imports the portable configuration document
// {token, groups, isLocked}.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"telebridge/internal/domain"
	"telebridge/internal/logging"
)

// DefaultFileName is the suggested name for exported documents.
const DefaultFileName = "telebridge-config.json"

// MsgInvalidDocument is the FormatError message for unparseable input.
const MsgInvalidDocument = "Failed to parse configuration file."

// Document keys.
const (
	KeyToken    = "token"
	KeyGroups   = "groups"
	KeyIsLocked = "isLocked"
)

// Engine is the part of the group engine the transfer reads and overwrites.
type Engine interface {
	Document() domain.Document
	ReplaceGroups(ctx context.Context, groups []domain.Group) error
	SetLocked(ctx context.Context, locked bool) error
	SetToken(ctx context.Context, token string) error
	Connect(ctx context.Context, token string) (domain.BotInfo, error)
}

// Result lists what an import changed.
type Result struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
	// ConnectErr is set when the imported token failed verification. The
	// token stays stored either way.
	ConnectErr error `json:"-"`
}

// Service runs export and import against an Engine.
type Service struct {
	engine Engine
	logger *logrus.Entry
}

// NewService builds a transfer service.
func NewService(engine Engine, logger *logrus.Entry) *Service {
	return &Service{engine: engine, logger: logging.OrDefault(logger)}
}

// Export renders the current document as indented JSON. Nothing is redacted.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	doc := s.engine.Document()
	if doc.Groups == nil {
		doc.Groups = []domain.Group{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"event":  "config_exported",
		"groups": len(doc.Groups),
	}).Info("configuration exported")

	return data, nil
}

// Import overwrites local state from data. Input that is not a JSON object
// fails with a format error before anything changes. Each key is applied only
// when present with the expected type: groups and isLocked first, then a
// non-empty token, which is stored and then verified with Connect.
func (s *Service) Import(ctx context.Context, data []byte) (Result, error) {
	if err := s.ready(ctx); err != nil {
		return Result{}, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, domain.NewError(domain.ErrFormat, MsgInvalidDocument, err)
	}
	if raw == nil {
		return Result{}, domain.NewError(domain.ErrFormat, MsgInvalidDocument, errors.New("document is not an object"))
	}

	var result Result

	if value, ok := raw[KeyGroups]; ok {
		if groups, valid := decodeGroups(value); valid {
			if err := s.engine.ReplaceGroups(ctx, groups); err != nil {
				return result, fmt.Errorf("import groups: %w", err)
			}
			result.Applied = append(result.Applied, KeyGroups)
		} else {
			result.Skipped = append(result.Skipped, KeyGroups)
		}
	}

	if value, ok := raw[KeyIsLocked]; ok {
		if locked, valid := decodeBool(value); valid {
			if err := s.engine.SetLocked(ctx, locked); err != nil {
				return result, fmt.Errorf("import lock flag: %w", err)
			}
			result.Applied = append(result.Applied, KeyIsLocked)
		} else {
			result.Skipped = append(result.Skipped, KeyIsLocked)
		}
	}

	if value, ok := raw[KeyToken]; ok {
		if token, valid := decodeToken(value); valid {
			if err := s.engine.SetToken(ctx, token); err != nil {
				return result, fmt.Errorf("import token: %w", err)
			}
			result.Applied = append(result.Applied, KeyToken)

			if _, err := s.engine.Connect(ctx, token); err != nil {
				result.ConnectErr = err
			}
		} else {
			result.Skipped = append(result.Skipped, KeyToken)
		}
	}

	entry := s.logger.WithFields(logging.Fields{
		"event":   "config_imported",
		"applied": result.Applied,
		"skipped": result.Skipped,
	})
	if result.ConnectErr != nil {
		entry.WithError(result.ConnectErr).Warn("configuration imported but token verification failed")
	} else {
		entry.Info("configuration imported")
	}

	return result, nil
}

func decodeGroups(value json.RawMessage) ([]domain.Group, bool) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}

	var groups []domain.Group
	if err := json.Unmarshal(trimmed, &groups); err != nil {
		return nil, false
	}
	if groups == nil {
		groups = []domain.Group{}
	}
	return groups, true
}

func decodeBool(value json.RawMessage) (bool, bool) {
	var b *bool
	if err := json.Unmarshal(value, &b); err != nil || b == nil {
		return false, false
	}
	return *b, true
}

func decodeToken(value json.RawMessage) (string, bool) {
	var token *string
	if err := json.Unmarshal(value, &token); err != nil || token == nil || *token == "" {
		return "", false
	}
	return *token, true
}

func (s *Service) ready(ctx context.Context) error {
	if s == nil || s.engine == nil {
		return errors.New("transfer service is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
