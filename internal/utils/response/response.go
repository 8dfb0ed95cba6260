package response

import (
	"errors"

	domainErrors "paycore/internal/errors"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "Unauthorized")
}

// statusByCode maps DomainError codes to HTTP statuses. Unlisted codes are 422.
var statusByCode = map[string]int{
	domainErrors.ErrPaymentNotFound.Code:        fiber.StatusNotFound,
	domainErrors.ErrRefundNotFound.Code:         fiber.StatusNotFound,
	domainErrors.ErrDisputeNotFound.Code:        fiber.StatusNotFound,
	domainErrors.ErrWalletNotFound.Code:         fiber.StatusNotFound,
	domainErrors.ErrEntityNotFound.Code:         fiber.StatusNotFound,
	domainErrors.ErrInvalidPayment.Code:         fiber.StatusBadRequest,
	domainErrors.ErrInvalidRelation.Code:        fiber.StatusBadRequest,
	domainErrors.ErrInvalidEntryAmount.Code:     fiber.StatusBadRequest,
	domainErrors.ErrAmountMismatch.Code:         fiber.StatusBadRequest,
	domainErrors.ErrInvalidDiscount.Code:        fiber.StatusBadRequest,
	domainErrors.ErrInvalidRefundRequest.Code:   fiber.StatusBadRequest,
	domainErrors.ErrInvalidRefundAmount.Code:    fiber.StatusBadRequest,
	domainErrors.ErrInvalidRefundMethod.Code:    fiber.StatusBadRequest,
	domainErrors.ErrDuplicateActivePayment.Code: fiber.StatusConflict,
	domainErrors.ErrRefundAlreadyFinalized.Code: fiber.StatusConflict,
	domainErrors.ErrDisputeClosed.Code:          fiber.StatusConflict,
	domainErrors.ErrGatewayTransport.Code:       fiber.StatusBadGateway,
}

// DomainError writes err with the status its DomainError code maps to, or
// a 500 without details when err carries none.
func DomainError(c *fiber.Ctx, err error) error {
	var de *domainErrors.DomainError
	if !errors.As(err, &de) {
		return ServerError(c, "internal server error")
	}
	status, ok := statusByCode[de.Code]
	if !ok {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  de.Code,
	})
}
