package codes

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// Length — длина кода подтверждения доставки.
const Length = 6

var codeSpace = big.NewInt(1_000_000)

// Generate выдаёт равномерно случайный 6-значный код (ведущие нули допустимы).
// Код генерируется ровно один раз в момент оплаты и никогда не перевыпускается.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", errors.Wrap(err, "rand code")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Verify сравнивает коды за постоянное время: тайминг не должен выдавать,
// сколько символов совпало. Несовпадение длины отсекается заранее.
func Verify(stored, submitted string) bool {
	if len(stored) != Length || len(submitted) != Length {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
