package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"drivingschool_go/config"
	"drivingschool_go/services/scheduling"
	"drivingschool_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

// Claims are issued by the identity provider. Owners may act on every branch;
// everyone else is scoped to BranchID.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Role     string `json:"role"`
	BranchID uint   `json:"branch_id"`
	jwt.RegisteredClaims
}

// GenerateToken signs claims with the configured secret. Tokens normally come
// from the identity provider; this is used for service accounts and tests.
func GenerateToken(userID, branchID uint, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Role:     role,
		BranchID: branchID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    config.AppConfig.JWTIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ParseToken verifies signature, expiry and, when configured, the issuer.
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if iss := config.AppConfig.JWTIssuer; iss != "" && !claims.VerifyIssuer(iss, true) {
		return nil, errors.New("unexpected token issuer")
	}
	if claims.UserID == 0 || !utils.IsValidRole(claims.Role) {
		return nil, errors.New("token has no staff identity")
	}
	return claims, nil
}

// JWTMiddleware validates JWT tokens
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Extract token from "Bearer <token>"
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := ParseToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// RequireRole middleware checks if user has required role
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*Claims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user claims",
			})
		}

		for _, role := range roles {
			if claims.Role == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient permissions",
		})
	}
}

// RequireOwnerOrAdmin middleware allows only owner or admin
func RequireOwnerOrAdmin() fiber.Handler {
	return RequireRole(utils.RoleOwner, utils.RoleAdmin)
}

// RequireBranchParam rejects requests for a branch outside the caller's scope.
func RequireBranchParam(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		branchID, err := utils.ParamID(c, param)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid branch ID",
			})
		}
		if !CanAccessBranch(c, branchID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Branch is outside your scope",
			})
		}
		return c.Next()
	}
}

// CanAccessBranch reports whether the caller may act on branchID.
func CanAccessBranch(c *fiber.Ctx, branchID uint) bool {
	claims, err := GetCurrentClaims(c)
	if err != nil {
		return false
	}
	return claims.Role == utils.RoleOwner || claims.BranchID == branchID
}

// GetCurrentClaims returns the current JWT claims
func GetCurrentClaims(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Claims not found in context")
	}
	return claims, nil
}

// ActorFromCtx is the identity engine operations are attributed to.
func ActorFromCtx(c *fiber.Ctx) scheduling.Actor {
	claims, err := GetCurrentClaims(c)
	if err != nil {
		return scheduling.Actor{}
	}
	return scheduling.Actor{UserID: claims.UserID, BranchID: claims.BranchID, Role: claims.Role}
}
