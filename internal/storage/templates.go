package storage

import "exodus/internal/db"

// Migration files define up and down without a schema prefix; they are
// created in a scratch namespace that sits first on the resolution path while
// the file runs. Permanent objects must be named with their schema.

const postgresTemplate = `-- Applied by "exodus migrate".
CREATE OR REPLACE FUNCTION up() RETURNS void AS $$
BEGIN
    -- CREATE TABLE public.example (id SERIAL PRIMARY KEY);
END;
$$ LANGUAGE plpgsql;

-- Applied by "exodus rollback".
CREATE OR REPLACE FUNCTION down() RETURNS void AS $$
BEGIN
    -- DROP TABLE public.example;
END;
$$ LANGUAGE plpgsql;
`

// MySQL routine bodies resolve tables against the routine's own database, so
// tables must be qualified with the application database name.
const mysqlTemplate = `-- Applied by "exodus migrate".
CREATE PROCEDURE up()
BEGIN
    -- CREATE TABLE app.example (id INT AUTO_INCREMENT PRIMARY KEY);
END;

-- Applied by "exodus rollback".
CREATE PROCEDURE down()
BEGIN
    -- DROP TABLE app.example;
END;
`

// Template returns the migration skeleton for a dialect.
func Template(p db.Provider) string {
	if p == db.MySQL {
		return mysqlTemplate
	}
	return postgresTemplate
}
