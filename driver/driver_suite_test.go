package driver_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDriverEndToEnd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Driver End-to-End Suite")
}
