// Package adaptertest provides driver-agnostic conformance testing for radio stacks.
//
//   - Architecture §4: "Normalized error codes: INVALID_RANGE, BUSY, UNAVAILABLE, INTERNAL"
//
// Any IRadioStack implementation (fake, BlueZ, future drivers) must pass
// this suite before the daemon will trust it.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/securacv/btctl/internal/adapter"
)

// Capabilities defines the expected capabilities for conformance testing.
type Capabilities struct {
	MinTxPowerDbm int
	MaxTxPowerDbm int

	// RejectsCommandsWhenOff is set for drivers that refuse configuration
	// commands while the radio is powered down.
	RejectsCommandsWhenOff bool

	ExpectedErrors ErrorExpectations
}

// ErrorExpectations defines expected error mappings for conformance testing.
type ErrorExpectations struct {
	InvalidRangeKeywords []string
	BusyKeywords         []string
	UnavailableKeywords  []string
	InternalKeywords     []string
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	StackName     string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// RunConformance runs the complete conformance test suite for a stack.
func RunConformance(t *testing.T, newStack func() adapter.IRadioStack, caps Capabilities) {
	startTime := time.Now()

	report := &ConformanceReport{
		StackName:     "Unknown Stack",
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}

	// Run all conformance tests
	runPowerCycleTests(t, newStack, report)
	runTxPowerTests(t, newStack, caps, report)
	runAdvertisingTests(t, newStack, report)
	runScanTests(t, newStack, report)
	runPoweredOffTests(t, newStack, caps, report)
	runContextTests(t, newStack, report)
	runEventStreamTests(t, newStack, report)
	runTimingTests(t, newStack, report)

	report.Duration = time.Since(startTime)

	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Stack conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

// runPowerCycleTests tests PowerOn/PowerOff behavior.
func runPowerCycleTests(t *testing.T, newStack func() adapter.IRadioStack, report *ConformanceReport) {
	stack := newStack()
	defer stack.Close()
	ctx := context.Background()

	result := ConformanceResult{
		TestName: "PowerCycle_Basic",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	err := stack.PowerOn(ctx)
	if err == nil {
		err = stack.PowerOff(ctx)
	}
	if err == nil {
		// PowerOff must be safe when already off.
		err = stack.PowerOff(ctx)
	}
	result.Duration = time.Since(start)

	if err != nil {
		result.Passed = false
		result.Error = fmt.Sprintf("Power cycle failed: %v", err)
	} else {
		result.Passed = true
	}

	report.addResult(result)
}

// runTxPowerTests tests SetTxPower with valid and invalid power levels.
func runTxPowerTests(t *testing.T, newStack func() adapter.IRadioStack, caps Capabilities, report *ConformanceReport) {
	stack := newStack()
	defer stack.Close()
	ctx := context.Background()

	if err := stack.PowerOn(ctx); err != nil {
		report.addResult(ConformanceResult{
			TestName: "SetTxPower_Setup",
			Error:    fmt.Sprintf("PowerOn failed: %v", err),
		})
		return
	}

	validPowers := []int{caps.MinTxPowerDbm, caps.MaxTxPowerDbm, (caps.MinTxPowerDbm + caps.MaxTxPowerDbm) / 2}

	for _, power := range validPowers {
		result := ConformanceResult{
			TestName: fmt.Sprintf("SetTxPower_Valid_%d", power),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		err := stack.SetTxPower(ctx, power)
		result.Duration = time.Since(start)

		if err != nil {
			result.Passed = false
			result.Error = fmt.Sprintf("SetTxPower(%d) failed: %v", power, err)
		} else {
			result.Passed = true
			result.Details["power"] = power
		}

		report.addResult(result)
	}

	invalidPowers := []int{caps.MinTxPowerDbm - 1, caps.MaxTxPowerDbm + 1, 100}

	for _, power := range invalidPowers {
		result := ConformanceResult{
			TestName: fmt.Sprintf("SetTxPower_Invalid_%d", power),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()

		err := stack.SetTxPower(ctx, power)
		result.Duration = time.Since(start)

		if err == nil {
			result.Passed = false
			result.Error = fmt.Sprintf("SetTxPower(%d) should have failed but succeeded", power)
		} else if !isInvalidRangeError(err) {
			result.Passed = false
			result.Error = fmt.Sprintf("SetTxPower(%d) should return INVALID_RANGE, got: %v", power, err)
		} else {
			result.Passed = true
			result.Details["expectedError"] = "INVALID_RANGE"
			result.Details["actualError"] = err.Error()
		}

		report.addResult(result)
	}
}

// runAdvertisingTests tests the advertising sub-mode commands.
func runAdvertisingTests(t *testing.T, newStack func() adapter.IRadioStack, report *ConformanceReport) {
	stack := newStack()
	defer stack.Close()
	ctx := context.Background()

	result := ConformanceResult{
		TestName: "Advertising_StartStop",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	err := stack.PowerOn(ctx)
	if err == nil {
		err = stack.StartAdvertising(ctx, adapter.AdvertisingParams{DeviceName: "conformance", TxPowerDbm: 0})
	}
	if err == nil {
		err = stack.StopAdvertising(ctx)
	}
	if err == nil {
		// StopAdvertising must be safe when not advertising.
		err = stack.StopAdvertising(ctx)
	}
	result.Duration = time.Since(start)

	if err != nil {
		result.Passed = false
		result.Error = fmt.Sprintf("Advertising cycle failed: %v", err)
	} else {
		result.Passed = true
	}

	report.addResult(result)
}

// runScanTests tests discovery start/stop, including the duplicate-start rejection.
func runScanTests(t *testing.T, newStack func() adapter.IRadioStack, report *ConformanceReport) {
	stack := newStack()
	defer stack.Close()
	ctx := context.Background()

	result := ConformanceResult{
		TestName: "Scan_StartStop",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	err := stack.PowerOn(ctx)
	if err == nil {
		err = stack.StartScan(ctx)
	}
	result.Duration = time.Since(start)

	if err != nil {
		result.Passed = false
		result.Error = fmt.Sprintf("StartScan failed: %v", err)
		report.addResult(result)
		return
	}

	// A second start while scanning must map to BUSY.
	dupErr := stack.StartScan(ctx)
	if dupErr == nil {
		result.Passed = false
		result.Error = "Duplicate StartScan should have failed"
	} else if !isBusyError(dupErr) {
		result.Passed = false
		result.Error = fmt.Sprintf("Duplicate StartScan should return BUSY, got: %v", dupErr)
	} else if stopErr := stack.StopScan(ctx); stopErr != nil {
		result.Passed = false
		result.Error = fmt.Sprintf("StopScan failed: %v", stopErr)
	} else if stopAgain := stack.StopScan(ctx); stopAgain != nil {
		result.Passed = false
		result.Error = fmt.Sprintf("StopScan when idle failed: %v", stopAgain)
	} else {
		result.Passed = true
	}

	report.addResult(result)
}

// runPoweredOffTests tests command rejection while the radio is down.
func runPoweredOffTests(t *testing.T, newStack func() adapter.IRadioStack, caps Capabilities, report *ConformanceReport) {
	if !caps.RejectsCommandsWhenOff {
		return
	}

	stack := newStack()
	defer stack.Close()
	ctx := context.Background()

	result := ConformanceResult{
		TestName: "PoweredOff_CommandsRejected",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	err := stack.SetDeviceName(ctx, "conformance")
	result.Duration = time.Since(start)

	if err == nil {
		result.Passed = false
		result.Error = "SetDeviceName on a powered-off radio should have failed"
	} else if !isUnavailableError(err) {
		result.Passed = false
		result.Error = fmt.Sprintf("Powered-off command should return UNAVAILABLE, got: %v", err)
	} else {
		result.Passed = true
		result.Details["actualError"] = err.Error()
	}

	report.addResult(result)
}

// runContextTests tests that cancelled contexts abort commands.
func runContextTests(t *testing.T, newStack func() adapter.IRadioStack, report *ConformanceReport) {
	stack := newStack()
	defer stack.Close()

	result := ConformanceResult{
		TestName: "Context_Cancellation",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := stack.PowerOn(cancelledCtx)
	result.Duration = time.Since(start)

	if err == nil {
		result.Passed = false
		result.Error = "PowerOn with cancelled context should have failed"
	} else {
		result.Passed = true
		result.Details["error"] = err.Error()
	}

	report.addResult(result)
}

// runEventStreamTests tests that Events delivers a stream and Close ends it.
func runEventStreamTests(t *testing.T, newStack func() adapter.IRadioStack, report *ConformanceReport) {
	stack := newStack()

	result := ConformanceResult{
		TestName: "EventStream_CloseEndsStream",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	events := stack.Events()
	if events == nil {
		result.Error = "Events() returned nil channel"
		report.addResult(result)
		return
	}

	if err := stack.Close(); err != nil {
		result.Error = fmt.Sprintf("Close failed: %v", err)
		report.addResult(result)
		return
	}

	// The stream must end after Close; drain pending events first.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				result.Passed = true
				result.Duration = time.Since(start)
				report.addResult(result)
				return
			}
		case <-deadline:
			result.Error = "Event stream still open one second after Close"
			result.Duration = time.Since(start)
			report.addResult(result)
			return
		}
	}
}

// runTimingTests tests that commands complete without hidden sleeps.
func runTimingTests(t *testing.T, newStack func() adapter.IRadioStack, report *ConformanceReport) {
	stack := newStack()
	defer stack.Close()

	result := ConformanceResult{
		TestName: "Timing_NoSleeps",
		Details:  make(map[string]interface{}),
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := stack.PowerOn(ctx)
	result.Duration = time.Since(start)

	if result.Duration > 50*time.Millisecond {
		result.Passed = false
		result.Error = fmt.Sprintf("Operation took too long: %v (no sleeps allowed in adaptertest)", result.Duration)
	} else if err != nil && !strings.Contains(err.Error(), "context deadline exceeded") {
		result.Passed = false
		result.Error = fmt.Sprintf("Unexpected error: %v", err)
	} else {
		result.Passed = true
		result.Details["duration"] = result.Duration.String()
	}

	report.addResult(result)
}

// Helper functions

func isInvalidRangeError(err error) bool {
	return errors.Is(err, adapter.ErrInvalidRange) || strings.Contains(err.Error(), "INVALID_RANGE")
}

func isBusyError(err error) bool {
	return errors.Is(err, adapter.ErrBusy) || strings.Contains(err.Error(), "BUSY")
}

func isUnavailableError(err error) bool {
	return errors.Is(err, adapter.ErrUnavailable) || strings.Contains(err.Error(), "UNAVAILABLE")
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("STACK CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Stack: %s", report.StackName)
	t.Logf("Total Tests: %d", report.TotalTests)
	t.Logf("Passed: %d", report.PassedTests)
	t.Logf("Failed: %d", report.FailedTests)
	t.Logf("Overall: %s", map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed])
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	t.Logf("%-34s %-8s %-12s %-s", "TEST NAME", "RESULT", "DURATION", "DETAILS")
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := ""
		if result.Error != "" {
			details = result.Error
		} else if len(result.Details) > 0 {
			var detailParts []string
			for k, v := range result.Details {
				detailParts = append(detailParts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(detailParts, ", ")
		}

		t.Logf("%-34s %-8s %-12s %-s",
			result.TestName,
			status,
			result.Duration.String(),
			details)
	}

	t.Logf("%s", strings.Repeat("=", 80))
}
