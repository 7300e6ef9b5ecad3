package config

// Sample is the starter file written by "mergegate config init". Every value
// shown is the default unless noted.
const Sample = `# mergegate configuration
backend: github          # github or gitlab
repo: owner/name         # GitLab: group/project or numeric project ID
# base_url: https://gitlab.example.com   # GitHub Enterprise or self-hosted GitLab
dir: .                   # working tree for fixes and the trial merge

merge:
  target: main
  strategy: squash       # squash, merge or rebase

tracker:
  interval: 2s
  timeout: 60s

poller:
  initial_interval: 10s
  multiplier: 1.5
  max_interval: 120s
  jitter: 0.2
  timeout: 600s
  max_polls: 30

autofix:
  max_attempts: 3        # at most 3
  attempt_timeout: 120s
  cooldown: 30s
  require_human_for: [security, infrastructure]   # security is always included
  fix_strategies:        # not set by default
    lint:
      command: npm run lint -- --fix
      verify: npm run lint

dry_run:
  enabled: true
  test_command: ""       # empty runs the trial merge only
  timeout: 10m

cleanup:
  delete_remote_branch: true
  delete_local_branch: true
  sync_target: true

review:
  block_on: major        # info, minor, major or critical

# Secrets come from the environment (or ./.env):
#   MERGEGATE_GITHUB_TOKEN / GITHUB_TOKEN
#   MERGEGATE_GITLAB_TOKEN / GITLAB_TOKEN
#   MERGEGATE_DATABASE_URL / DATABASE_URL   (PostgreSQL attempt store)
`
