// Package connection implements bilateral account connections.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/access"
	"github.com/halcyon-games/social/internal/services/social/message"
	"github.com/halcyon-games/social/internal/services/social/profilesvc"
	"github.com/halcyon-games/social/internal/services/social/request"
	"github.com/halcyon-games/social/internal/services/social/storage"
)

// Engine manages symmetric friendship pairs and their approval protocol.
type Engine struct {
	store    storage.ConnectionStore
	requests *request.Engine
	sender   message.Sender
	profiles profilesvc.Client
}

// NewEngine builds a connection engine.
func NewEngine(store storage.ConnectionStore, requests *request.Engine, sender message.Sender, profiles profilesvc.Client) *Engine {
	if sender == nil {
		sender = message.NopSender{}
	}
	return &Engine{
		store:    store,
		requests: requests,
		sender:   sender,
		profiles: profiles,
	}
}

func (e *Engine) notify(ctx context.Context, gamespaceID, sender, recipient int64, messageType string, payload json.RawMessage, authoritative bool) {
	if len(payload) == 0 {
		return
	}
	err := e.sender.SendMessage(ctx, message.Message{
		GamespaceID:    gamespaceID,
		Sender:         sender,
		RecipientClass: message.RecipientUser,
		RecipientKey:   strconv.FormatInt(recipient, 10),
		Type:           messageType,
		Payload:        payload,
		Flags:          []string{message.FlagRemoveDelivered},
		Authoritative:  authoritative,
	})
	if err != nil {
		log.Printf("connection notify %s: %v", messageType, err)
	}
}

func withKey(notify json.RawMessage, key string) (json.RawMessage, error) {
	payload := map[string]json.RawMessage{}
	if len(notify) > 0 {
		if err := json.Unmarshal(notify, &payload); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBadInput, "notify must be a JSON object", err)
		}
	}
	encodedKey, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("encode request key: %w", err)
	}
	payload["key"] = encodedKey
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode notify payload: %w", err)
	}
	return encoded, nil
}

// RequestConnection starts or shortcuts the connection protocol from account
// to target. With approval a pending request is registered and its key is
// returned; without it the symmetric pair is created immediately, which
// requires the connection_approval scope.
func (e *Engine) RequestConnection(ctx context.Context, gamespaceID, account, target int64, approval bool, scopes access.Scopes, notify json.RawMessage, authoritative bool) (string, error) {
	if e == nil || e.store == nil {
		return "", apperrors.New(apperrors.CodeInternal, "connection engine is not configured")
	}
	if account == target {
		return "", apperrors.New(apperrors.CodeBadInput, "cannot connect an account to itself")
	}

	if approval {
		key, err := e.requests.Create(ctx, gamespaceID, account, storage.RequestAccount, target, json.RawMessage(`{}`))
		if err != nil {
			return "", err
		}
		if len(notify) > 0 {
			payload, err := withKey(notify, key)
			if err != nil {
				return "", err
			}
			e.notify(ctx, gamespaceID, account, target, message.TypeConnectionRequest, payload, authoritative)
		}
		return key, nil
	}

	if !scopes.Has(access.ScopeConnectionApproval) {
		return "", apperrors.New(apperrors.CodeForbidden,
			fmt.Sprintf("scope %q is required if approval is disabled", access.ScopeConnectionApproval))
	}
	if err := e.create(ctx, gamespaceID, account, target); err != nil {
		return "", err
	}
	e.notify(ctx, gamespaceID, account, target, message.TypeConnectionCreated, notify, authoritative)
	return "", nil
}

func (e *Engine) create(ctx context.Context, gamespaceID, account, target int64) error {
	err := e.store.CreateConnection(ctx, gamespaceID, account, target)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return apperrors.New(apperrors.CodeConnectionExists, "connection already exists")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "create connection", err)
	}
	return nil
}

// ApproveConnection consumes requester's pending request using the key that
// was delivered to account, then creates the symmetric pair between the two.
func (e *Engine) ApproveConnection(ctx context.Context, gamespaceID, account, requester int64, key string, notify json.RawMessage, authoritative bool) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "connection engine is not configured")
	}
	pending, err := e.requests.Acquire(ctx, gamespaceID, requester, key)
	if err != nil {
		return err
	}
	if pending.Type != storage.RequestAccount {
		return apperrors.New(apperrors.CodeBadRequestType, "bad request type")
	}
	if err := e.create(ctx, gamespaceID, account, pending.Account); err != nil {
		return err
	}
	e.notify(ctx, gamespaceID, account, pending.Account, message.TypeConnectionApproved, notify, authoritative)
	return nil
}

// RejectConnection consumes requester's pending request and notifies the
// requester of the rejection.
func (e *Engine) RejectConnection(ctx context.Context, gamespaceID, account, requester int64, key string, notify json.RawMessage, authoritative bool) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "connection engine is not configured")
	}
	pending, err := e.requests.Acquire(ctx, gamespaceID, requester, key)
	if err != nil {
		return err
	}
	if pending.Type != storage.RequestAccount {
		return apperrors.New(apperrors.CodeBadRequestType, "bad request type")
	}
	e.notify(ctx, gamespaceID, account, pending.Account, message.TypeConnectionRejected, notify, authoritative)
	return nil
}

// DeleteConnection removes the symmetric pair between account and target.
func (e *Engine) DeleteConnection(ctx context.Context, gamespaceID, account, target int64, notify json.RawMessage, authoritative bool) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "connection engine is not configured")
	}
	err := e.store.DeleteConnection(ctx, gamespaceID, account, target)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNoSuchConnection, "no such connection")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "delete connection", err)
	}
	e.notify(ctx, gamespaceID, account, target, message.TypeConnectionDeleted, notify, authoritative)
	return nil
}

// ListConnections returns the accounts connected to account.
func (e *Engine) ListConnections(ctx context.Context, gamespaceID, account int64) ([]int64, error) {
	if e == nil || e.store == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "connection engine is not configured")
	}
	connections, err := e.store.ListConnections(ctx, gamespaceID, account)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list connections", err)
	}
	return connections, nil
}

// ConnectionsProfiles lists connections decorated with public profiles.
func (e *Engine) ConnectionsProfiles(ctx context.Context, gamespaceID, account int64, fields []string) (map[int64]json.RawMessage, error) {
	if e == nil || e.store == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "connection engine is not configured")
	}
	if e.profiles == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "profile service is not configured")
	}
	connections, err := e.ListConnections(ctx, gamespaceID, account)
	if err != nil {
		return nil, err
	}
	profiles, err := e.profiles.MassProfiles(ctx, gamespaceID, connections, fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "fetch connection profiles", err)
	}
	return profiles, nil
}

// Cleanup removes every connection and pending request the account holds.
func (e *Engine) Cleanup(ctx context.Context, gamespaceID, account int64) error {
	if e == nil || e.store == nil {
		return apperrors.New(apperrors.CodeInternal, "connection engine is not configured")
	}
	if err := e.store.DeleteAccountConnections(ctx, gamespaceID, account); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "cleanup connections", err)
	}
	return e.requests.Cleanup(ctx, gamespaceID, account)
}
