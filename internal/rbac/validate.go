package rbac

import (
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Length bounds enforced on role records.
const (
	MaxRoleNameLength        = 50
	MaxRoleDescriptionLength = 255
)

// ErrValidation is matched by every ValidationError via errors.Is.
var ErrValidation = errors.New("rbac: validation failed")

// ValidationError reports malformed permission or role data per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets callers match any ValidationError against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var validate = validator.New()

// Permission names are matched exactly and required permissions are
// lowercased, so stored names must be lowercase too.
type permissionInput struct {
	Name     string `validate:"required,lowercase"`
	Action   string `validate:"required,lowercase"`
	Resource string `validate:"required,lowercase"`
}

type roleInput struct {
	Name        string `validate:"required,max=50"`
	Description string `validate:"max=255"`
}

// ValidatePermission checks that action and resource are present and
// lowercase, and that name is exactly "<action>:<resource>".
func ValidatePermission(name, action, resource string) error {
	fields := collect(validate.Struct(permissionInput{Name: name, Action: action, Resource: resource}))
	if _, bad := fields["name"]; !bad && action != "" && resource != "" && name != CreatePermissionName(action, resource) {
		fields["name"] = "must equal " + CreatePermissionName(action, resource)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ValidateRole checks role name and description bounds. Surrounding
// whitespace is ignored on the name.
func ValidateRole(name, description string) error {
	fields := collect(validate.Struct(roleInput{Name: strings.TrimSpace(name), Description: description}))
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func collect(err error) map[string]string {
	fields := make(map[string]string)
	if err == nil {
		return fields
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["general"] = err.Error()
		return fields
	}
	for _, fe := range verrs {
		key := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[key] = "required"
		case "lowercase":
			fields[key] = "must be lowercase"
		case "max":
			fields[key] = "must be at most " + fe.Param() + " characters"
		default:
			fields[key] = fe.Error()
		}
	}
	return fields
}

// CreatePermissionName joins action and resource into a canonical permission name.
func CreatePermissionName(action, resource string) string {
	return action + ":" + resource
}

// ParsePermission splits a canonical permission name at its first colon.
func ParsePermission(name string) (action, resource string, ok bool) {
	action, resource, ok = strings.Cut(name, ":")
	if !ok || action == "" || resource == "" {
		return "", "", false
	}
	return action, resource, true
}

// NewPermission builds a validated Permission from its parts.
func NewPermission(action, resource, description string) (Permission, error) {
	name := CreatePermissionName(action, resource)
	if err := ValidatePermission(name, action, resource); err != nil {
		return Permission{}, err
	}
	return Permission{Name: name, Action: action, Resource: resource, Description: description}, nil
}
