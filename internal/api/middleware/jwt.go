package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoocall/internal/auth"
	"github.com/yoockh/yoocall/internal/utils"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

// JWTAuth rejects requests without a valid bearer token and stores the
// identity under "user_id" and "role".
func JWTAuth(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := v.Verify(auth.TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(utils.HTTPStatus(err), apiError{
				Code:    utils.CodeOf(err),
				Message: utils.PublicMessage(err),
			})
			return
		}

		c.Set("user_id", id.UserID)
		c.Set("role", id.Role)
		c.Next()
	}
}
