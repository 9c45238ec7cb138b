package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/orderflow/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

type testOrder struct {
	CustomerID string     `json:"customerId" binding:"required,max=10"`
	Currency   string     `json:"currency" binding:"required,len=3"`
	Items      []testItem `json:"items" binding:"required,min=1,dive"`
}

func validationRouter() *gin.Engine {
	SetupValidator()
	router := gin.New()
	router.Use(RequestID())
	router.POST("/orders", func(c *gin.Context) {
		var req testOrder
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(req.CustomerID))
	})
	return router
}

func postOrder(t *testing.T, body string) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	validationRouter().ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSetupValidator(t *testing.T) {
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	assert.True(t, ok)
	assert.NotNil(t, v)
}

func TestHandleValidationError(t *testing.T) {
	t.Run("field errors use json paths", func(t *testing.T) {
		w, resp := postOrder(t, `{"customerId":"","currency":"EURO","items":[{"sku":"A","quantity":0}]}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, resp.Success)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, "Request validation failed", resp.Error.Message)
		assert.Equal(t, "req-1", resp.Error.RequestID)

		byField := map[string]string{}
		for _, d := range resp.Error.Details {
			byField[d.Field] = d.Message
		}
		assert.Equal(t, "This field is required", byField["customerId"])
		assert.Equal(t, "Must be exactly 3 characters", byField["currency"])
		assert.Equal(t, "This field is required", byField["items[0].quantity"])
	})

	t.Run("empty items", func(t *testing.T) {
		_, resp := postOrder(t, `{"customerId":"c-1","currency":"USD","items":[]}`)

		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "items", resp.Error.Details[0].Field)
		assert.Equal(t, "Must contain at least 1 item(s)", resp.Error.Details[0].Message)
	})

	t.Run("malformed json", func(t *testing.T) {
		w, resp := postOrder(t, `{"customerId":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, resp.Error.Code)
	})

	t.Run("wrong type", func(t *testing.T) {
		w, resp := postOrder(t, `{"customerId":"c-1","currency":"USD","items":[{"sku":"A","quantity":"two"}]}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		require.Len(t, resp.Error.Details, 1)
		assert.Contains(t, resp.Error.Details[0].Message, "int")
	})

	t.Run("valid", func(t *testing.T) {
		w, resp := postOrder(t, `{"customerId":"c-1","currency":"USD","items":[{"sku":"A","quantity":2}]}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)
	})
}

func TestGetValidationMessage(t *testing.T) {
	type target struct {
		Required string   `binding:"required"`
		MinStr   string   `binding:"min=5"`
		MaxInt   int      `binding:"max=10"`
		OneOf    string   `binding:"oneof=a b"`
		MinList  []string `binding:"min=2"`
	}

	v := validator.New()
	v.SetTagName("binding")
	err := v.Struct(target{MinStr: "ab", MaxInt: 11, OneOf: "c", MinList: []string{"x"}})
	require.Error(t, err)

	got := map[string]string{}
	for _, fe := range err.(validator.ValidationErrors) {
		got[fe.Field()] = getValidationMessage(fe)
	}
	assert.Equal(t, "This field is required", got["Required"])
	assert.Equal(t, "Must be at least 5 characters", got["MinStr"])
	assert.Equal(t, "Must be at most 10", got["MaxInt"])
	assert.Equal(t, "Must be one of: a b", got["OneOf"])
	assert.Equal(t, "Must contain at least 2 item(s)", got["MinList"])
}
