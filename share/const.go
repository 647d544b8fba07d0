package share

// VERSION GuardianBridge version
const VERSION = "0.3.0"

// PRVERSION the build commit, set by the release pipeline
const PRVERSION = "DEV"

// BUILDNAME the artifact name
const BUILDNAME = "guardianbridge"
