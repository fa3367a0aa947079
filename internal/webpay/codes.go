package webpay

import "strings"

// Status strings returned by commit and status.
const (
	StatusInitialized = "INITIALIZED"
	StatusAuthorized  = "AUTHORIZED"
	StatusReversed    = "REVERSED"
	StatusFailed      = "FAILED"
	StatusNullified   = "NULLIFIED"
)

const genericDecline = "Transacción rechazada"

var declineReasons = map[int]string{
	-1:  "Error en el ingreso de los datos de la tarjeta",
	-2:  "Transacción rechazada, reintente",
	-3:  "Error en la transacción",
	-4:  "Rechazada por el emisor",
	-5:  "Rechazo por error de tasa",
	-6:  "Excede cupo máximo mensual",
	-7:  "Excede límite diario por transacción",
	-8:  "Rubro no autorizado",
	-96: "Monto fuera de las reglas de la transacción",
	-97: "Excede monto máximo diario de pago",
	-98: "Excede monto máximo de pago",
}

// DeclineReason maps a response code to a display reason. Unknown codes
// fall back to a generic rejection.
func DeclineReason(code int) string {
	if reason, ok := declineReasons[code]; ok {
		return reason
	}
	return genericDecline
}

var paymentTypes = map[string]string{
	"VD": "Venta Débito",
	"VN": "Venta Normal",
	"VC": "Venta en cuotas",
	"SI": "3 cuotas sin interés",
	"S2": "2 cuotas sin interés",
	"NC": "N cuotas sin interés",
	"VP": "Venta Prepago",
}

// PaymentTypeLabel returns the display label for a payment type code.
func PaymentTypeLabel(code string) string {
	if label, ok := paymentTypes[code]; ok {
		return label
	}
	return code
}

// MaskCard renders the last digits Transbank returns as a masked PAN.
func MaskCard(lastDigits string) string {
	lastDigits = strings.TrimSpace(lastDigits)
	if lastDigits == "" {
		return ""
	}
	if len(lastDigits) > 4 {
		lastDigits = lastDigits[len(lastDigits)-4:]
	}
	return "**** **** **** " + lastDigits
}
