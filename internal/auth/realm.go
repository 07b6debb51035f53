package auth

// RealmMetadata describes the trust domain tokens are verified against.
// It is built once at startup and shared read-only afterwards.
type RealmMetadata struct {
	// Realm is the realm name reported in WWW-Authenticate challenges.
	Realm string
	// ResourceName selects resource_access roles; empty selects realm roles.
	ResourceName string
	// PublicKeyPEM is the realm signing key (PEM, or bare base64 DER).
	PublicKeyPEM string
	// JWKSURL is consulted when no static key is configured.
	JWKSURL string
	// Issuer is checked against the iss claim when set. With no key and no
	// JWKS URL it is also used for OIDC discovery.
	Issuer string
	// Audience is checked against the aud claim when set.
	Audience string
	// TruststorePath references the PEM CA bundle used for outbound TLS.
	TruststorePath string
	// ClientCertPath and ClientKeyPath reference the outbound client keystore.
	ClientCertPath string
	ClientKeyPath  string
}
