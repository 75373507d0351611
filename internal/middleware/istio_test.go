package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMeshRoles(t *testing.T) {
	tests := []struct {
		name    string
		context []string
		header  string
		want    []string
	}{
		{name: "context claim wins", context: []string{"admin"}, header: `["gerente"]`, want: []string{"admin"}},
		{name: "json header", header: `["gerente","director"]`, want: []string{"gerente", "director"}},
		{name: "comma header", header: "supervisor, admin", want: []string{"supervisor", "admin"}},
		{name: "malformed json", header: `["gerente"`, want: nil},
		{name: "none", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("x-jwt-claim-roles", tt.header)
			}
			if tt.context != nil {
				c.Set("roles", tt.context)
			}
			assert.Equal(t, tt.want, meshRoles(c))
		})
	}
}

func TestIstioIdentityRequiresActor(t *testing.T) {
	r := gin.New()
	r.GET("/me", IstioIdentity(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CLAIMS")
}
