// Package config loads the keepalive configuration from an optional YAML file
// and environment variables. It resolves the list of Appwrite projects to keep
// alive (APPWRITE_PROJECTS, the file's projects list, or the single-project
// APPWRITE_ENDPOINT/APPWRITE_PROJECT_ID/APPWRITE_API_KEY variables) and the
// runtime settings for scheduling, logging and the status server.
package config
