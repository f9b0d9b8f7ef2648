package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"campusconnect/marketplace/internal/api/middleware"
	"campusconnect/marketplace/internal/services"
)

// asActor stands in for AuthMiddleware in handler tests.
func asActor(actor services.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actor.ID.IsZero() {
			c.Set(middleware.ContextKeyUserID, actor.ID)
			c.Set(middleware.ContextKeyIsAdmin, actor.IsAdmin)
		}
		c.Next()
	}
}

func newEngine(actor services.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(asActor(actor))
	return r
}

func newActor() services.Actor {
	return services.Actor{ID: primitive.NewObjectID()}
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeError(w *httptest.ResponseRecorder) errorBody {
	var body errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body
}
