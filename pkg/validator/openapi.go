package validator

import (
	"fmt"
	"sync"

	apperrors "private-chat/backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	swagger    *openapi3.T
	router     routers.Router
	schemaPath string
	mutex      sync.RWMutex
}

// NewOpenAPIValidator loads the schema at schemaPath
func NewOpenAPIValidator(schemaPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema from %s: %w", schemaPath, err)
	}
	v := &OpenAPIValidator{schemaPath: schemaPath}
	if err := v.install(loader, swagger); err != nil {
		return nil, err
	}
	return v, nil
}

// NewOpenAPIValidatorFromData builds a validator from an in-memory document
func NewOpenAPIValidatorFromData(data []byte) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI schema: %w", err)
	}
	v := &OpenAPIValidator{}
	if err := v.install(loader, swagger); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *OpenAPIValidator) install(loader *openapi3.Loader, swagger *openapi3.T) error {
	if err := swagger.Validate(loader.Context); err != nil {
		return fmt.Errorf("invalid OpenAPI schema: %w", err)
	}
	router, err := gorillamux.NewRouter(swagger)
	if err != nil {
		return fmt.Errorf("error creating OpenAPI router: %w", err)
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.swagger = swagger
	v.router = router
	return nil
}

// ReloadSchema reloads the OpenAPI schema from disk
func (v *OpenAPIValidator) ReloadSchema() error {
	if v.schemaPath == "" {
		return nil
	}
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromFile(v.schemaPath)
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI schema from %s: %w", v.schemaPath, err)
	}
	return v.install(loader, swagger)
}

// Middleware rejects requests that do not match the documented operation.
// Routes absent from the document pass through.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mutex.RLock()
		router := v.router
		v.mutex.RUnlock()

		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         false,
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Request does not match the API schema").
				WithDetails(err.Error()))
			c.Abort()
			return
		}

		c.Next()
	}
}
