// Package constants provides shared constants for the loan-calculator application.
package constants

// DateTimeLayout is the month layout used for amortization schedule due dates.
const DateTimeLayout = "2006-01"

// DisplayDateLayout is the layout used when rendering server-assigned dates.
const DisplayDateLayout = "2006-01-02"

// Financial constants
const (
	// MonthsPerYear is the number of months in a year
	MonthsPerYear = 12

	// MaxTermMonths is the longest loan term accepted (50 years)
	MaxTermMonths = 600

	// DecimalPlaces is the number of fraction digits kept for currency display
	DecimalPlaces = 2

	// DecimalPrecision is the precision for currency rounding (2 decimal places)
	DecimalPrecision = 100

	// CurrencyTolerance is the tolerance for currency comparisons (1 cent)
	CurrencyTolerance = 0.01

	// PercentageMultiplier is used for percentage conversions
	PercentageMultiplier = 100.0

	// DefaultCurrency is the currency prefix for amounts (Kenyan shilling)
	DefaultCurrency = "KES"
)

// Repayment periods per year for each supported repayment frequency.
const (
	DailyPeriodsPerYear   = 365
	WeeklyPeriodsPerYear  = 52
	MonthlyPeriodsPerYear = MonthsPerYear
	YearlyPeriodsPerYear  = 1
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// OutputFormatJSON is the machine-readable JSON output format
	OutputFormatJSON = "json"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "loan-calculator.yaml"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"

	// EnvPrefix is the prefix for environment variable overrides
	EnvPrefix = "LOANCALC"
)

// Backend defaults
const (
	// DefaultBackendURL is the base URL of the hosted loan API
	DefaultBackendURL = "https://loan-calculator-springboot.onrender.com/api"

	// DefaultBackendTimeoutSeconds bounds a single backend round trip
	DefaultBackendTimeoutSeconds = 15
)

// Credential store defaults
const (
	StoreTypeMemory = "memory"
	StoreTypeFile   = "file"
	StoreTypeSQLite = "sqlite"
	StoreTypeRedis  = "redis"

	// DefaultStoreType keeps credentials on the local disk
	DefaultStoreType = StoreTypeFile

	// DefaultCredentialsFile is relative to the user's config directory
	DefaultCredentialsFile = "loan-calculator/credentials.yaml"

	// DefaultRedisKey is the hash key holding the credential slot
	DefaultRedisKey = "loan-calculator:credentials"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the quote API
	DefaultServerAddress = ":8080"

	// DefaultMaxBodySizeBytes is the default maximum JSON request body (64 KB)
	DefaultMaxBodySizeBytes int64 = 64 * 1024
)

// Support defaults
const (
	// DefaultWhatsAppNumber is the support help line
	DefaultWhatsAppNumber = "+254114825652"

	// DefaultHelpMessage is the pre-filled help message
	DefaultHelpMessage = "Hello, I have a question about a loan."
)
