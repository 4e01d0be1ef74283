package base

const DEBUG_ENABLED = true

var enableDiagnostics bool = true

func EnableDiagnostics() bool {
	return enableDiagnostics
}
func SetEnableDiagnostics(enabled bool) {
	enableDiagnostics = enabled
}

/***************************************
 * Assertions
 ***************************************/

var LogAssert = NewLogCategory("Assert")

func AssertErr(pred func() error) {
	if err := pred(); err != nil {
		Panic(err)
	}
}

func Assert(pred func() bool) {
	if success := pred(); !success {
		Panicf("failed assertion")
	}
}

func AssertNotIn[T comparable](elt T, values ...T) {
	for _, x := range values {
		if x == elt {
			Panicf("element <%v> is already in the slice", elt)
		}
	}
}

func UnexpectedValue(x interface{}) {
	Panicf("unexpected value: <%T> %#v", x, x)
}
func UnexpectedValuePanic(dst interface{}, any interface{}) {
	LogPanicErr(LogGlobal, MakeUnexpectedValueError(dst, any))
}

/***************************************
 * Set containers
 ***************************************/

func AppendComparable_CheckUniq[T comparable](src []T, elts ...T) (result []T) {
	result = src
	for _, x := range elts {
		if !Contains(src, x) {
			result = append(result, x)
		} else {
			Panicf("element already in set: %v (%v)", x, src)
		}
	}
	return result
}
func PrependComparable_CheckUniq[T comparable](src []T, elts ...T) (result []T) {
	result = src
	for _, x := range elts {
		if !Contains(src, x) {
			result = append([]T{x}, result...)
		} else {
			Panicf("element already in set: %v (%v)", x, src)
		}
	}
	return result
}

/***************************************
 * Logger
 ***************************************/

func LogDebug(category *LogCategory, msg string, args ...interface{}) {
	gLogger.Log(category, LOG_DEBUG, msg, args...)
}
func LogTrace(category *LogCategory, msg string, args ...interface{}) {
	gLogger.Log(category, LOG_TRACE, msg, args...)
}
