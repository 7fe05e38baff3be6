package devbackend

import "github.com/gin-gonic/gin"

// SetupRouter sets up the Gin router
func SetupRouter(s *Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.logger))

	handlers := NewHandlers(s)

	router.POST("/connect", handlers.Login)

	wallet := router.Group("/wallet-connect")
	wallet.Use(AuthMiddleware(s))
	{
		wallet.POST("/connect/", handlers.Link)
		wallet.POST("/track/", handlers.Track)
	}

	return router
}
