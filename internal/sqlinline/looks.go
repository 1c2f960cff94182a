package sqlinline

const QCreateLooksTable = `--sql a4a6f75d-355e-4156-9f7a-775e80a07100
create table if not exists looks (
  id                 text primary key,
  job_id             text not null,
  suggestion_index   int not null,
  user_id            text not null,
  user_image_url     text not null default '',
  item_image_url     text not null default '',
  stylized_image_url text not null default '',
  final_image_url    text not null,
  storage_key        text not null default '',
  mirror_attempts    int not null default 0,
  occasion           text not null default '',
  style_suggestion   jsonb not null default '{}'::jsonb,
  created_at         timestamptz not null default now(),
  updated_at         timestamptz not null default now()
);
create index if not exists looks_user_created_idx on looks (user_id, created_at desc);
alter table looks add column if not exists mirror_attempts int not null default 0;
`

// QUpsertLook keeps the mirrored storage key only while the final image is unchanged.
const QUpsertLook = `--sql a4b0ee7a-3a1d-40c8-9ff2-e9239c613654
insert into looks(
  id,
  job_id,
  suggestion_index,
  user_id,
  user_image_url,
  item_image_url,
  stylized_image_url,
  final_image_url,
  storage_key,
  occasion,
  style_suggestion,
  created_at,
  updated_at
) values (
  $1::text,
  $2::text,
  $3::int,
  $4::text,
  $5::text,
  $6::text,
  $7::text,
  $8::text,
  $9::text,
  $10::text,
  $11::jsonb,
  $12::timestamptz,
  now()
)
on conflict (id) do update set
  stylized_image_url = excluded.stylized_image_url,
  final_image_url    = excluded.final_image_url,
  style_suggestion   = excluded.style_suggestion,
  storage_key = case
    when looks.final_image_url = excluded.final_image_url then looks.storage_key
    else excluded.storage_key
  end,
  mirror_attempts = case
    when looks.final_image_url = excluded.final_image_url then looks.mirror_attempts
    else 0
  end,
  updated_at = now();
`

const QSelectLookByID = `--sql 8f52492c-9f88-42a7-98c4-e4a21e016a9a
select id, job_id, suggestion_index, user_id, user_image_url, item_image_url,
       stylized_image_url, final_image_url, storage_key, mirror_attempts, occasion, style_suggestion, created_at
from looks
where id = $1::text
limit 1;
`

const QListLooksByUser = `--sql 24d9fe9c-0912-476f-856f-9e73ad6f070b
select id, job_id, suggestion_index, user_id, user_image_url, item_image_url,
       stylized_image_url, final_image_url, storage_key, mirror_attempts, occasion, style_suggestion, created_at
from looks
where user_id = $1::text
order by created_at desc, id
limit $2::int offset $3::int;
`

const QListUnmirroredLooks = `--sql 219c5735-c8d7-4c35-80cd-2e3a1578b243
select id, job_id, suggestion_index, user_id, user_image_url, item_image_url,
       stylized_image_url, final_image_url, storage_key, mirror_attempts, occasion, style_suggestion, created_at
from looks
where storage_key = '' and mirror_attempts < $2::int
order by mirror_attempts, created_at
limit $1::int;
`

const QSetLookStorageKey = `--sql 527a0077-aaf5-4829-80ac-107d8cddf293
update looks
set storage_key = $2::text,
    updated_at = now()
where id = $1::text;
`

const QIncrementLookMirrorAttempts = `--sql 6d0c3b8e-51f2-4a7e-b0d4-93c1e2f7a845
update looks
set mirror_attempts = mirror_attempts + 1,
    updated_at = now()
where id = $1::text;
`
