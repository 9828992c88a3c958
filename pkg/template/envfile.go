package template

// EnvFileTemplate is the commented sample written next to the config on
// first install. Every line is a comment so loading it changes nothing.
const EnvFileTemplate = `# mihomo-installer options. Uncomment and edit, then re-run the installer.
# Variables already set in the environment take precedence over this file.

# Subscription (proxy provider) URL
#SUB_URL=https://example.com/subscription.yaml

# Controller secret. A random one is generated when empty.
#SECRET=

# Mixed (HTTP + SOCKS) listen port
#PORT=7890

# External controller bind address
#CONTROLLER=127.0.0.1:9090

# Clone the web dashboard into /etc/mihomo/ui
#INSTALL_UI=false

# Overwrite an existing config.yaml (the old one is backed up)
#FORCE_CONFIG=false

# Try lower microarchitecture tiers when the detected one has no asset
#TIER_FALLBACK=false

# Pin a release tag instead of the latest release
#MIHOMO_VERSION=

# Token for the GitHub API when rate limited
#GITHUB_TOKEN=
`
