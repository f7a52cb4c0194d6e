package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"custody-core/internal/handler/response"
	"custody-core/pkg/errno"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应不是合法 JSON: %v", err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck)

	w := perform(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, errno.OK.Code, resp.Code)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "UP", data["status"])
}

// 参数绑定失败统一返回 ErrBind，不触达服务层
func TestBindFailures(t *testing.T) {
	wallet := NewWalletHandler(nil, nil)
	withdraw := NewWithdrawHandler(nil)
	admin := NewAdminHandler(nil, nil, nil)

	r := gin.New()
	r.POST("/wallet/provision", wallet.Provision)
	r.GET("/wallet/:user_id", wallet.Get)
	r.POST("/withdraw", withdraw.Create)
	r.POST("/admin/withdraw/:id/review", admin.ReviewWithdrawal)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"开通缺 user_id", http.MethodPost, "/wallet/provision", `{}`},
		{"开通非法 JSON", http.MethodPost, "/wallet/provision", `{"user_id":`},
		{"查询非数字 user_id", http.MethodGet, "/wallet/abc", ""},
		{"提现缺字段", http.MethodPost, "/withdraw", `{"user_id":1}`},
		{"审核缺 approve", http.MethodPost, "/admin/withdraw/1/review", `{"admin_id":9}`},
		{"审核非数字 id", http.MethodPost, "/admin/withdraw/x/review", `{"admin_id":9,"approve":true}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := perform(r, c.method, c.path, c.body)
			assert.Equal(t, http.StatusOK, w.Code)
			resp := decode(t, w)
			assert.Equal(t, errno.ErrBind.Code, resp.Code)
		})
	}
}

// approve 必须是指针绑定: 显式 false 不能被 required 校验吞掉
func TestReviewBinding_ExplicitFalse(t *testing.T) {
	// 只验证绑定层: approve=false 能通过 required 校验。
	// 服务为 nil 会 panic，所以这里拦在 handler 之前用独立引擎验证绑定。
	r := gin.New()
	r.POST("/bind", func(c *gin.Context) {
		var req struct {
			AdminID uint64 `json:"admin_id" binding:"required"`
			Approve *bool  `json:"approve" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errno.ErrBind)
			return
		}
		response.Success(c, gin.H{"approve": *req.Approve})
	})

	w := perform(r, http.MethodPost, "/bind", `{"admin_id":9,"approve":false}`)
	resp := decode(t, w)
	assert.Equal(t, errno.OK.Code, resp.Code)
	assert.Equal(t, false, resp.Data.(map[string]interface{})["approve"])
}
