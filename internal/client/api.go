package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/remote-mirror/backend/internal/model"
)

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Register creates an account and returns its id.
func Register(ctx context.Context, baseURL, username, password string) (model.UserID, error) {
	var resp struct {
		ID model.UserID `json:"id"`
	}
	if err := post(ctx, strings.TrimSuffix(baseURL, "/")+"/register", model.Credentials{Username: username, Password: password}, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Login exchanges credentials for an access token.
func Login(ctx context.Context, baseURL, username, password string) (string, error) {
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := post(ctx, strings.TrimSuffix(baseURL, "/")+"/login", model.Credentials{Username: username, Password: password}, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

func post(ctx context.Context, url string, body any, want int, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s (%d)", apiErr.Error.Code, apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
