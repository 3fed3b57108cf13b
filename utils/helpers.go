package utils

import (
	"fmt"
	"strconv"
	"strings"

	"drivingschool_go/services/scheduling"

	"github.com/gofiber/fiber/v2"
)

// Staff roles carried in identity-provider tokens
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleInstructor = "instructor"
	RoleStaff      = "staff"
)

// IsValidRole checks if a role is valid
func IsValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleInstructor, RoleStaff:
		return true
	}
	return false
}

// ParamID reads a positive numeric route parameter.
func ParamID(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", scheduling.ErrValidation, name, raw)
	}
	return uint(id), nil
}

// QueryUint reads an optional numeric query parameter; missing means 0.
func QueryUint(c *fiber.Ctx, name string) (uint, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", scheduling.ErrValidation, name, raw)
	}
	return uint(v), nil
}

// QueryDate reads an optional YYYY-MM-DD query parameter.
func QueryDate(c *fiber.Ctx, name string) (scheduling.Date, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return scheduling.Date{}, nil
	}
	return scheduling.ParseDate(raw)
}

// QueryStatuses reads a comma separated status list.
func QueryStatuses(c *fiber.Ctx, name string) ([]scheduling.Status, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	var out []scheduling.Status
	for _, part := range strings.Split(raw, ",") {
		s, err := scheduling.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
