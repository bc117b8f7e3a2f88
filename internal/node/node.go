package node

import "github.com/gin-gonic/gin"

// Node is a process exposing an HTTP router.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}
