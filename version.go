package authsession

// Version is the published library version.
// 0.3.0: RetryController fires waiting retries on foreground; ULID idempotency keys.
// 0.2.0: Breaking - TokenStore methods take a context; Redis and Postgres stores.
const Version = "0.3.0"
