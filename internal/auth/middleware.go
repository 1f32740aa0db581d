package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"notifier/pkg/util"
)

// Middleware rejects requests without a valid bearer token and stores the
// authenticated account id on the context.
func Middleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing authorization token",
			})
			return
		}

		accountID, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "invalid or expired token",
			})
			return
		}

		c.Set("account_id", accountID)
		c.Next()
	}
}
