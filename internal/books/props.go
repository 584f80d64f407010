// Package books holds the synchronization conventions layered on top of the
// ledger platform: the exc_* property vocabulary, base-code helpers,
// connected-book discovery and rates-endpoint configuration.
package books

// Property keys driving cross-book synchronization. All are plain string
// key/value pairs on books, groups, accounts or transactions.
const (
	// PropExcCode is a book's base exchange code, or an explicit code
	// override on a transaction or group.
	PropExcCode = "exc_code"
	// PropExchangeCodeLegacy is the deprecated alias of PropExcCode.
	PropExchangeCodeLegacy = "exchange_code"
	// PropExcBase flags a book as the base book of its collection.
	PropExcBase = "exc_base"
	// PropExcRate is an explicit conversion rate override on a transaction,
	// and the audit rate written onto mirrors.
	PropExcRate = "exc_rate"
	// PropExcAmount is an explicit converted amount override on a
	// transaction, and the audit original amount written onto mirrors.
	PropExcAmount = "exc_amount"
	// PropExcDate overrides the rate lookup date of a transaction.
	PropExcDate = "exc_date"
	// PropExcLog is the JSON audit trail of rate-table consultations.
	PropExcLog = "exc_log"
	// PropExcAccount overrides the gain/loss account for an account or group.
	PropExcAccount = "exc_account"
	// PropExcAggregate switches gain/loss postings to per-code aggregate
	// accounts.
	PropExcAggregate = "exc_aggregate"
	// PropExcRatesURL is the book's rates endpoint URL.
	PropExcRatesURL = "exc_rates_url"
	// PropExchangeRatesURLLegacy is the deprecated alias of PropExcRatesURL.
	PropExchangeRatesURLLegacy = "exchange_rates_url"
	// PropExcRatesCache overrides the rates cache TTL, in seconds.
	PropExcRatesCache = "exc_rates_cache"
	// PropExcOnCheck restricts mirroring of posted transactions to checked
	// ones.
	PropExcOnCheck = "exc_on_check"
	// PropExcAutoCheckLegacy is the deprecated alias of PropExcOnCheck.
	PropExcAutoCheckLegacy = "exc_auto_check"
	// PropExcHistorical flags a book as tracking historical-cost balances.
	PropExcHistorical = "exc_historical"
	// PropChildBookID back-references a child book from a group; it stays
	// local to each book and is never mirrored.
	PropChildBookID = "child_book_id"
	// PropStockExcCode flags a group as holding stock accounts.
	PropStockExcCode = "stock_exc_code"
	// PropExcBooksLegacy is the deprecated comma/space separated list of
	// linked book IDs.
	PropExcBooksLegacy = "exc_books"
)

// TemplateCode marks a collection's template book, which is never a
// synchronization target.
const TemplateCode = "TEMPLATE"
