package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authorization-service/internal/models"
	"authorization-service/internal/services"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUserNotFound is returned when the staff service has no such user
var ErrUserNotFound = services.ErrUserNotFound

// StaffDirectory looks up users and roles in staff-service
type StaffDirectory struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

type staffUser struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Roles    []string  `json:"roles"`
	IsActive bool      `json:"isActive"`
}

func (u staffUser) toModel() models.User {
	return models.User{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Roles:    models.ParseRoles(u.Roles),
		IsActive: u.IsActive,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type usersResponse struct {
	Success bool           `json:"success"`
	Data    []staffUser    `json:"data"`
	Error   *errorResponse `json:"error,omitempty"`
}

type userResponse struct {
	Success bool           `json:"success"`
	Data    *staffUser     `json:"data"`
	Error   *errorResponse `json:"error,omitempty"`
}

// NewStaffDirectory creates a new staff directory client
func NewStaffDirectory(baseURL string, timeout time.Duration, logger *logrus.Logger) *StaffDirectory {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StaffDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.WithField("component", "staff-directory"),
	}
}

// GetUsersByRole returns the users holding any of roles, in staff-service order
func (c *StaffDirectory) GetUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error) {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	q := url.Values{}
	q.Set("roles", strings.Join(names, ","))
	endpoint := fmt.Sprintf("%s/api/v1/internal/users?%s", c.baseURL, q.Encode())

	var body usersResponse
	status, err := c.get(ctx, endpoint, &body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !body.Success {
		return nil, fmt.Errorf("staff-service returned error: %s", errMessage(status, body.Error))
	}

	users := make([]models.User, 0, len(body.Data))
	for _, u := range body.Data {
		users = append(users, u.toModel())
	}
	return users, nil
}

// GetUser returns a single user
func (c *StaffDirectory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	endpoint := fmt.Sprintf("%s/api/v1/internal/users/%s", c.baseURL, id)

	var body userResponse
	status, err := c.get(ctx, endpoint, &body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if status != http.StatusOK || !body.Success || body.Data == nil {
		return nil, fmt.Errorf("staff-service returned error: %s", errMessage(status, body.Error))
	}
	user := body.Data.toModel()
	return &user, nil
}

func (c *StaffDirectory) get(ctx context.Context, endpoint string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-Service", "authorization-service")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("url", endpoint).Warn("staff-service request failed")
		return 0, fmt.Errorf("failed to call staff-service: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode == http.StatusOK {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func errMessage(status int, e *errorResponse) string {
	if e != nil && e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("status %d", status)
}
