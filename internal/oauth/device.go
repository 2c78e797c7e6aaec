package oauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/storage"
)

const (
	deviceCodeTTL      = 10 * time.Minute
	devicePollInterval = 5 // seconds
)

// DeviceAuthResponse is the RFC 8628 device-authorization response.
type DeviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// StartDeviceAuthorization begins the device flow: the device polls with
// device_code while the user approves user_code in a browser.
func (s *Service) StartDeviceAuthorization(ctx context.Context, realm *storage.Realm, form url.Values) (*DeviceAuthResponse, *Error) {
	client, oerr := s.ValidateClient(ctx, realm, form.Get("client_id"), form.Get("client_secret"), grantTypeDeviceCode)
	if oerr != nil {
		return nil, oerr
	}

	deviceCode, err := crypto.GenerateOpaqueToken(32)
	if err != nil {
		return nil, serverError("failed to generate device code")
	}
	userCode, err := generateUserCode()
	if err != nil {
		return nil, serverError("failed to generate user code")
	}

	if err := s.stores.DeviceCodes.Create(ctx, &storage.DeviceCode{
		ID:         uuid.New(),
		RealmID:    realm.ID,
		ClientID:   client.ID,
		DeviceCode: deviceCode,
		UserCode:   userCode,
		Scope:      form.Get("scope"),
		Interval:   devicePollInterval,
		ExpiresAt:  s.now().Add(deviceCodeTTL),
	}); err != nil {
		return nil, serverError("failed to store device code")
	}

	verificationURI := s.baseURL + "/realms/" + realm.Name + "/device"
	return &DeviceAuthResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + url.QueryEscape(userCode),
		ExpiresIn:               int(deviceCodeTTL.Seconds()),
		Interval:                devicePollInterval,
	}, nil
}

// ApproveDeviceCode binds the authenticated user to the pending device code.
func (s *Service) ApproveDeviceCode(ctx context.Context, realm *storage.Realm, userCode string, userID uuid.UUID) error {
	d, err := s.stores.DeviceCodes.GetByUserCode(ctx, realm.ID, userCode)
	if err != nil {
		return err
	}
	if !d.ExpiresAt.After(s.now()) {
		return storage.ErrNotFound
	}
	d.Approved = true
	d.UserID = &userID
	return s.stores.DeviceCodes.Update(ctx, d)
}

// DenyDeviceCode rejects the pending device code.
func (s *Service) DenyDeviceCode(ctx context.Context, realm *storage.Realm, userCode string) error {
	d, err := s.stores.DeviceCodes.GetByUserCode(ctx, realm.ID, userCode)
	if err != nil {
		return err
	}
	d.Denied = true
	return s.stores.DeviceCodes.Update(ctx, d)
}

func (s *Service) deviceCodeGrant(ctx context.Context, realm *storage.Realm, form url.Values, clientIP, userAgent string) (*TokenResponse, *Error) {
	client, oerr := s.ValidateClient(ctx, realm, form.Get("client_id"), form.Get("client_secret"), grantTypeDeviceCode)
	if oerr != nil {
		return nil, oerr
	}

	rawCode := form.Get("device_code")
	if rawCode == "" {
		return nil, invalidRequest("device_code is required")
	}

	d, err := s.stores.DeviceCodes.GetByDeviceCode(ctx, realm.ID, rawCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidGrant("invalid device code")
		}
		return nil, serverError("device code lookup failed")
	}
	if d.ClientID != client.ID {
		return nil, invalidGrant("invalid device code")
	}
	if !d.ExpiresAt.After(s.now()) {
		return nil, errExpiredToken
	}
	if d.Denied {
		return nil, accessDenied("the user denied the request")
	}

	// lastPolledAt moves unconditionally before the interval check so a
	// hostile poller cannot starve the legitimate device.
	lastPolled := d.LastPolledAt
	now := s.now()
	d.LastPolledAt = &now
	if err := s.stores.DeviceCodes.Update(ctx, d); err != nil {
		return nil, serverError("device code update failed")
	}
	if lastPolled != nil && now.Sub(*lastPolled) < time.Duration(d.Interval)*time.Second {
		return nil, errSlowDown
	}

	if !d.Approved || d.UserID == nil {
		return nil, errAuthorizationPending
	}

	user, err := s.stores.Users.GetByID(ctx, *d.UserID)
	if err != nil || !user.Enabled {
		return nil, invalidGrant("invalid user credentials")
	}

	// Consumption deletes the record; the code can never be exchanged twice.
	if err := s.stores.DeviceCodes.Delete(ctx, d.ID); err != nil {
		return nil, serverError("device code consumption failed")
	}

	session, err := s.OpenSession(ctx, realm, user.ID, clientIP, userAgent)
	if err != nil {
		return nil, serverError("failed to open session")
	}

	s.audit.Log(ctx, audit.Event{
		Type:      audit.EventLogin,
		RealmName: realm.Name,
		ClientID:  client.ClientID,
		UserID:    user.ID.String(),
		SessionID: session.ID.String(),
		IPAddress: clientIP,
		Details:   map[string]string{"grant": "device_code"},
	})

	resp, err := s.IssueTokens(ctx, issueInput{
		realm:     realm,
		user:      user,
		client:    client,
		sessionID: session.ID,
		scope:     d.Scope,
	})
	if err != nil {
		return nil, serverError("token issuance failed")
	}
	return resp, nil
}

// generateUserCode produces a short XXXX-XXXX code the user types into the
// verification page; the charset avoids ambiguous glyphs.
func generateUserCode() (string, error) {
	const chars = "BCDFGHJKLMNPQRSTVWXZ"
	code := make([]byte, 8)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failed: %w", err)
		}
		code[i] = chars[num.Int64()]
	}
	return string(code[:4]) + "-" + string(code[4:]), nil
}
