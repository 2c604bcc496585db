package flow

import (
	"fmt"
	"math/rand"
	"strings"
)

// Random data types for inputRandom.
const (
	RandomText       = "TEXT"
	RandomNumber     = "NUMBER"
	RandomEmail      = "EMAIL"
	RandomPersonName = "PERSON_NAME"
)

const defaultRandomLength = 10

// IsRandomType reports whether t names a supported random data type.
// Empty means TEXT.
func IsRandomType(t string) bool {
	switch strings.ToUpper(t) {
	case "", RandomText, RandomNumber, RandomEmail, RandomPersonName:
		return true
	}
	return false
}

// RandomValue generates data for an inputRandom step.
func RandomValue(dataType string, length int) string {
	if length <= 0 {
		length = defaultRandomLength
	}
	switch strings.ToUpper(dataType) {
	case RandomEmail:
		return randomEmail()
	case RandomNumber:
		return randomFrom("0123456789", length)
	case RandomPersonName:
		return randomPersonName()
	default:
		return randomFrom("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", length)
	}
}

func randomFrom(chars string, length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))] //#nosec G404 -- test data, not secrets
	}
	return string(b)
}

func randomEmail() string {
	return fmt.Sprintf("test%d@example.com", rand.Intn(10000)) //#nosec G404 -- test data
}

func randomPersonName() string {
	firstNames := []string{"John", "Jane", "Alice", "Bob", "Emily", "David", "Sarah", "James", "Emma", "Olivia"}
	lastNames := []string{"Smith", "Doe", "Johnson", "Brown", "Jones", "Garcia", "Miller", "Davis", "Wilson", "Martinez"}
	return firstNames[rand.Intn(len(firstNames))] + " " + lastNames[rand.Intn(len(lastNames))] //#nosec G404 -- test data
}
